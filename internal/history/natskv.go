package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/celia/internal/model"
)

// KVBackend stores records in a JetStream key-value bucket under
// "<owner>.<id>" keys, one document per saved conversation.
type KVBackend struct {
	kv jetstream.KeyValue
}

// NewKVBackend wraps an existing bucket.
func NewKVBackend(kv jetstream.KeyValue) *KVBackend {
	return &KVBackend{kv: kv}
}

// KV key tokens are limited to [-/_=.a-zA-Z0-9]; uids and ids are encoded.
func kvToken(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func kvKey(owner, id string) string {
	return kvToken(owner) + "." + kvToken(id)
}

func (b *KVBackend) Put(ctx context.Context, owner string, rec model.SavedConversation) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := b.kv.Put(ctx, kvKey(owner, rec.ID), data); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (b *KVBackend) Get(ctx context.Context, owner, id string) (model.SavedConversation, error) {
	entry, err := b.kv.Get(ctx, kvKey(owner, id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.SavedConversation{}, ErrNotFound
	}
	if err != nil {
		return model.SavedConversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeEntry(entry)
}

func (b *KVBackend) List(ctx context.Context, owner string) ([]model.SavedConversation, error) {
	entries, err := b.entries(ctx, owner)
	if err != nil {
		return nil, err
	}

	out := make([]model.SavedConversation, 0, len(entries))
	for _, entry := range entries {
		rec, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *KVBackend) Delete(ctx context.Context, owner, id string) error {
	key := kvKey(owner, id)
	if _, err := b.kv.Get(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if err := b.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (b *KVBackend) DeleteOlderThan(ctx context.Context, owner string, cutoff time.Time) (int, error) {
	entries, err := b.entries(ctx, owner)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range entries {
		rec, err := decodeEntry(entry)
		if err != nil || !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := b.kv.Delete(ctx, entry.Key()); err != nil {
			return n, fmt.Errorf("failed to sweep conversation: %w", err)
		}
		n++
	}
	return n, nil
}

// Ping checks that the bucket is still reachable.
func (b *KVBackend) Ping(ctx context.Context) error {
	if _, err := b.kv.Status(ctx); err != nil {
		return fmt.Errorf("failed to reach bucket: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (b *KVBackend) Close() error { return nil }

// entries returns the owner's live entries. A nil update from the watcher
// marks the end of the initial values.
func (b *KVBackend) entries(ctx context.Context, owner string) ([]jetstream.KeyValueEntry, error) {
	w, err := b.kv.Watch(ctx, kvToken(owner)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to watch conversations: %w", err)
	}
	defer w.Stop()

	var entries []jetstream.KeyValueEntry
	for {
		select {
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				return entries, nil
			}
			entries = append(entries, entry)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func decodeEntry(entry jetstream.KeyValueEntry) (model.SavedConversation, error) {
	var rec model.SavedConversation
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return model.SavedConversation{}, fmt.Errorf("failed to decode %s: %w", entry.Key(), err)
	}
	return rec, nil
}
