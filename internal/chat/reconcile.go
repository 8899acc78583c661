package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/capitalize-ai/celia/internal/model"
)

// Reconcile merges a freshly polled server list into the current message
// list and reports whether the result differs from current.
//
// Rules:
//   - Every server message is kept. Temp messages are dropped, except those
//     whose delivery is still in flight (listed in sending) and that no
//     server message from the user matches by text yet.
//   - Interacted is local state: a server message that is already known
//     keeps the local flag.
//   - Ids are unique in the result (last write wins) and the result is
//     ordered by CreatedAt.
//
// Neither input is modified.
func Reconcile(current, server []model.Message, sending map[string]bool) ([]model.Message, bool) {
	incoming := model.CloneMessages(server)
	SortByCreatedAt(incoming)

	existing := make(map[string]model.Message, len(current))
	for _, m := range current {
		existing[m.ID] = m
	}

	confirmed := make(map[string]bool)
	for i, m := range incoming {
		if prev, known := existing[m.ID]; known {
			incoming[i].Interacted = prev.Interacted
		}
		if m.IsFromUser() {
			confirmed[m.Text] = true
		}
	}

	merged := make([]model.Message, 0, len(current)+len(incoming))
	for _, m := range current {
		if !m.IsTemp() || (sending[m.ID] && m.IsFromUser() && !confirmed[m.Text]) {
			merged = append(merged, m)
		}
	}
	merged = append(merged, incoming...)

	merged = dedupeByID(merged)
	SortByCreatedAt(merged)

	merged = model.CloneMessages(merged)
	return merged, !model.EqualMessages(merged, current)
}

// dedupeByID keeps the first position of each id and the last value written for it.
func dedupeByID(msgs []model.Message) []model.Message {
	index := make(map[string]int, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// SortByCreatedAt stably sorts msgs ascending by CreatedAt.
func SortByCreatedAt(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return CompareCreatedAt(a.CreatedAt, b.CreatedAt)
	})
}

// CompareCreatedAt orders two ISO-8601 timestamps. Timestamps with different
// offsets or fractional precision compare by instant; anything unparseable
// falls back to lexical order.
func CompareCreatedAt(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// FormatCreatedAt renders t the way locally created messages store it.
func FormatCreatedAt(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
