package history

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/celia/internal/model"
)

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]map[string]model.SavedConversation
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]map[string]model.SavedConversation)}
}

func (b *MemoryBackend) Put(ctx context.Context, owner string, rec model.SavedConversation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	partition, ok := b.records[owner]
	if !ok {
		partition = make(map[string]model.SavedConversation)
		b.records[owner] = partition
	}
	rec.Messages = model.CloneMessages(rec.Messages)
	partition[rec.ID] = rec
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, owner, id string) (model.SavedConversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[owner][id]
	if !ok {
		return model.SavedConversation{}, ErrNotFound
	}
	rec.Messages = model.CloneMessages(rec.Messages)
	return rec, nil
}

func (b *MemoryBackend) List(ctx context.Context, owner string) ([]model.SavedConversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.SavedConversation, 0, len(b.records[owner]))
	for _, rec := range b.records[owner] {
		rec.Messages = model.CloneMessages(rec.Messages)
		out = append(out, rec)
	}
	return out, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, owner, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[owner][id]; !ok {
		return ErrNotFound
	}
	delete(b.records[owner], id)
	return nil
}

func (b *MemoryBackend) DeleteOlderThan(ctx context.Context, owner string, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, rec := range b.records[owner] {
		if rec.CreatedAt.Before(cutoff) {
			delete(b.records[owner], id)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Close() error { return nil }
