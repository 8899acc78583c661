package chat

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/capitalize-ai/celia/internal/model"
)

// DefaultBufferSize is the default per-subscriber channel buffer.
const DefaultBufferSize = 16

// Hub is an in-process pub/sub dispatcher for owner-scoped session snapshots.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan model.SessionView
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[string]map[string]chan model.SessionView{},
	}
}

// Publish delivers view to every subscriber of view.Owner. Subscribers whose
// buffer is full miss the snapshot; a later one supersedes it anyway.
func (h *Hub) Publish(view model.SessionView) {
	if h == nil {
		return
	}
	owner := strings.TrimSpace(view.Owner)
	if owner == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[owner] {
		select {
		case ch <- view:
		default:
		}
	}
}

// Subscribe registers a subscriber for owner and returns its channel and a
// cancel function that unregisters it and closes the channel.
func (h *Hub) Subscribe(owner string, buffer int) (<-chan model.SessionView, func()) {
	owner = strings.TrimSpace(owner)
	if h == nil || owner == "" {
		ch := make(chan model.SessionView)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	id := uuid.NewString()
	ch := make(chan model.SessionView, buffer)

	h.mu.Lock()
	streams, ok := h.streams[owner]
	if !ok {
		streams = map[string]chan model.SessionView{}
		h.streams[owner] = streams
	}
	streams[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.streams[owner]
			if current, ok := streams[id]; ok {
				delete(streams, id)
				close(current)
			}
			if len(streams) == 0 {
				delete(h.streams, owner)
			}
		})
	}

	return ch, cancel
}

// Subscribers returns the number of live subscribers for owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[owner])
}
