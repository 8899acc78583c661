package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/celia/internal/nats"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	history    Pinger
}

// NewHealthHandler creates a new health handler. Either dependency may be
// nil when the server runs without it.
func NewHealthHandler(natsClient *natsclient.Client, history Pinger) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		history:    history,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.natsClient != nil {
		if h.natsClient.IsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "not connected"
			ready = false
		}
	}
	if h.history != nil {
		if err := h.history.Ping(ctx); err != nil {
			checks["history"] = err.Error()
			ready = false
		} else {
			checks["history"] = "ok"
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}
