package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/chat"
	"github.com/capitalize-ai/celia/internal/middleware"
	"github.com/capitalize-ai/celia/internal/model"
	"github.com/capitalize-ai/celia/pkg/logger"
	"github.com/capitalize-ai/celia/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	manager   *chat.Manager
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. A zero heartbeat uses 30s.
func NewStreamHandler(manager *chat.Manager, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{
		manager:   manager,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// Stream handles GET /api/v1/session/stream. It sends the current session
// as a "snapshot" event, then one per change, with periodic heartbeats.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetUserID(ctx)
	log := middleware.RequestLogger(ctx, h.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the session exists so the bootstrap is observed.
	updates, cancel := h.manager.Subscribe(owner)
	defer cancel()

	s, err := h.manager.Session(ctx, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The server write timeout must not cut a long-lived stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	current := s.View()
	if err := sendSSEEvent(w, flusher, "snapshot", current); err != nil {
		return
	}
	lastVersion := current.Version

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case view, ok := <-updates:
			if !ok {
				return
			}
			// Snapshots are whole views, so an older one adds nothing.
			if view.Version <= lastVersion {
				continue
			}
			lastVersion = view.Version
			if err := sendSSEEvent(w, flusher, "snapshot", view); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}
			if view.State == model.StateTerminated {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
