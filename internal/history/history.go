// Package history stores saved conversations per signed-in user.
package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
)

// DefaultRetention is how long saved conversations are kept.
const DefaultRetention = 30 * 24 * time.Hour

// ErrNotFound is returned when a saved conversation does not exist.
var ErrNotFound = errors.New("history: conversation not found")

// Backend persists records partitioned by owner uid.
type Backend interface {
	Put(ctx context.Context, owner string, rec model.SavedConversation) error
	Get(ctx context.Context, owner, id string) (model.SavedConversation, error)
	List(ctx context.Context, owner string) ([]model.SavedConversation, error)
	Delete(ctx context.Context, owner, id string) error
	// DeleteOlderThan removes the owner's records created before cutoff and
	// reports how many were removed.
	DeleteOlderThan(ctx context.Context, owner string, cutoff time.Time) (int, error)
	Close() error
}

// Options configures a Service.
type Options struct {
	Retention time.Duration
	Now       func() time.Time
}

// Service scopes a Backend to the identity carried by the request context.
type Service struct {
	backend   Backend
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewService creates a history service.
func NewService(backend Backend, opts Options, log *logger.Logger) *Service {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Global()
	}
	return &Service{
		backend:   backend,
		retention: opts.Retention,
		now:       opts.Now,
		log:       log.Component("history"),
	}
}

// Ping reports whether the backend is reachable. Backends without a
// connection always are.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Save stores rec for the signed-in user. The store assigns CreatedAt, and an
// id when rec has none.
func (s *Service) Save(ctx context.Context, rec model.SavedConversation) (model.SavedConversation, error) {
	owner, ok := auth.FromContext(ctx)
	if !ok {
		metrics.RecordHistoryOp("save", auth.ErrUnauthenticated)
		return model.SavedConversation{}, auth.ErrUnauthenticated
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = s.now().UTC()
	rec.Messages = model.CloneMessages(rec.Messages)

	err := s.backend.Put(ctx, owner.UID, rec)
	metrics.RecordHistoryOp("save", err)
	if err != nil {
		return model.SavedConversation{}, err
	}

	s.log.Info("conversation saved",
		zap.String("uid", owner.UID),
		zap.String("id", rec.ID),
		zap.Int("messages", len(rec.Messages)),
	)
	return rec, nil
}

// List returns the signed-in user's records, newest first. Records past the
// retention window are swept first and never returned. Without an identity
// the list is empty.
func (s *Service) List(ctx context.Context) ([]model.SavedConversation, error) {
	owner, ok := auth.FromContext(ctx)
	if !ok {
		return []model.SavedConversation{}, nil
	}

	cutoff := s.now().Add(-s.retention)
	swept, err := s.backend.DeleteOlderThan(ctx, owner.UID, cutoff)
	if err != nil {
		s.log.Warn("retention sweep failed", zap.String("uid", owner.UID), zap.Error(err))
	} else if swept > 0 {
		metrics.HistorySweptTotal.Add(float64(swept))
		s.log.Info("expired conversations swept", zap.String("uid", owner.UID), zap.Int("count", swept))
	}

	records, err := s.backend.List(ctx, owner.UID)
	metrics.RecordHistoryOp("list", err)
	if err != nil {
		return nil, err
	}

	out := make([]model.SavedConversation, 0, len(records))
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one of the signed-in user's records.
func (s *Service) Get(ctx context.Context, id string) (model.SavedConversation, error) {
	owner, ok := auth.FromContext(ctx)
	if !ok {
		return model.SavedConversation{}, auth.ErrUnauthenticated
	}

	rec, err := s.backend.Get(ctx, owner.UID, id)
	metrics.RecordHistoryOp("get", err)
	if err != nil {
		return model.SavedConversation{}, err
	}
	if rec.CreatedAt.Before(s.now().Add(-s.retention)) {
		return model.SavedConversation{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes one of the signed-in user's records.
func (s *Service) Delete(ctx context.Context, id string) error {
	owner, ok := auth.FromContext(ctx)
	if !ok {
		metrics.RecordHistoryOp("delete", auth.ErrUnauthenticated)
		return auth.ErrUnauthenticated
	}

	err := s.backend.Delete(ctx, owner.UID, id)
	metrics.RecordHistoryOp("delete", err)
	if err != nil {
		return err
	}

	s.log.Info("conversation deleted", zap.String("uid", owner.UID), zap.String("id", id))
	return nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}
