package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// BucketConfig describes a JetStream key-value bucket.
type BucketConfig struct {
	Name        string
	Description string
	// TTL expires keys server-side; zero keeps them forever.
	TTL     time.Duration
	History uint8
}

// EnsureKeyValue returns the named bucket, creating it on first use.
func (c *Client) EnsureKeyValue(ctx context.Context, cfg BucketConfig) (jetstream.KeyValue, error) {
	kv, err := c.js.KeyValue(ctx, cfg.Name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", cfg.Name, err)
	}

	if cfg.History == 0 {
		cfg.History = 1
	}
	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Name,
		Description: cfg.Description,
		History:     cfg.History,
		TTL:         cfg.TTL,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Name, err)
	}
	c.logger.Info("created history bucket", zap.Duration("ttl", cfg.TTL))
	return kv, nil
}
