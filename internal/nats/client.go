// Package nats connects the history store to a JetStream key-value bucket.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/pkg/logger"
)

// Config holds the connection and bucket settings for the history store.
type Config struct {
	Name string
	URL  string
	// CAFile alone verifies the server; CertFile and KeyFile add a client
	// certificate.
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
	Bucket   BucketConfig
}

// Client owns the NATS connection behind the history bucket.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	bucket jetstream.KeyValue
	logger *logger.Logger
}

// Connect dials NATS and opens the configured history bucket, creating it
// on first use.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Global()
	}
	if cfg.Name == "" {
		cfg.Name = "celia"
	}
	if cfg.Bucket.Name == "" {
		return nil, fmt.Errorf("history bucket name is required")
	}
	log = log.Component("history-kv").With(zap.String("bucket", cfg.Bucket.Name))

	nc, err := nats.Connect(cfg.URL, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c := &Client{conn: nc, js: js, logger: log}
	c.bucket, err = c.EnsureKeyValue(ctx, cfg.Bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}

	log.Info("history bucket ready", zap.String("url", nc.ConnectedUrl()))
	return c, nil
}

func connectOptions(cfg Config, log *logger.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		// Saves issued while disconnected are replayed from this buffer.
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("history bucket unreachable, saves are buffered", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("history bucket reachable again", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Debug("history connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("history connection error", fields...)
		}),
	}

	if cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.CAFile))
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.CertFile, cfg.KeyFile))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// Bucket returns the history bucket opened by Connect.
func (c *Client) Bucket() jetstream.KeyValue {
	return c.bucket
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
