package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/pkg/metrics"
)

// pollHandle is the token for one polling task. A handle is bound to the
// session epoch it was started in; results carrying a stale epoch are
// discarded under the session lock, so nothing is applied once the handle
// has been cancelled.
type pollHandle struct {
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// stop signals the task. done is closed once it has exited.
func (h *pollHandle) stop() {
	h.cancel()
}

// startPollingLocked starts a polling task for the current identifiers.
// s.mu must be held and any previous task must already be stopped.
func (s *Session) startPollingLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{
		epoch:  s.epoch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.poll = h

	go s.runPoller(ctx, h, s.userKey, s.conversationID)
}

// stopPollingLocked cancels the running task, if any, and invalidates every
// in-flight result. s.mu must be held. It does not wait for the task to
// exit: a tick blocked in a transport that ignores cancellation may finish
// later, and the epoch check makes whatever it delivers a no-op.
func (s *Session) stopPollingLocked() {
	s.epoch++
	if s.poll != nil {
		s.poll.stop()
		s.poll = nil
	}
}

func (s *Session) runPoller(ctx context.Context, h *pollHandle, userKey, conversationID string) {
	defer close(h.done)

	log := s.log.With(zap.String("conversation_id", conversationID), zap.Uint64("epoch", h.epoch))
	log.Debug("polling started", zap.Duration("interval", s.interval))
	defer log.Debug("polling stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !s.pollOnce(ctx, h.epoch, userKey, conversationID) {
			return
		}
		timer.Reset(s.interval)
	}
}

// pollOnce runs a single tick and reports whether polling should continue.
func (s *Session) pollOnce(ctx context.Context, epoch uint64, userKey, conversationID string) bool {
	if userKey == "" || conversationID == "" {
		s.mu.Lock()
		if s.epoch == epoch {
			s.setStatusLocked(fmt.Sprintf("Error getting messages: %v", ErrSessionLost))
			s.poll = nil
		}
		s.mu.Unlock()
		s.notify()
		return false
	}

	raws, err := s.api.ListMessages(ctx, userKey, conversationID)
	if ctx.Err() != nil {
		return false
	}
	metrics.RecordPollTick(err)

	mapped := MapMessages(raws, userKey)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Debug("discarding stale poll result", zap.Uint64("epoch", epoch))
		return false
	}

	if err != nil {
		s.setStatusLocked(fmt.Sprintf("Error getting messages: %v", err))
		s.mu.Unlock()
		s.log.Warn("poll tick failed", zap.String("conversation_id", conversationID), zap.Error(err))
		s.notify()
		return true
	}

	merged, changed := Reconcile(s.messages, mapped, s.sending)
	if changed {
		s.messages = merged
		s.setStatusLocked("Updated messages")
		metrics.ReconcileUpdatesTotal.Inc()
	}
	s.mu.Unlock()

	s.log.Debug("poll tick", zap.Int("server_messages", len(mapped)), zap.Bool("changed", changed))
	if changed {
		s.notify()
	}
	return true
}
