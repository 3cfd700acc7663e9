// Package poll holds the bounded mirror of recent traffic that serves
// cursor-polling clients. It is a convenience cache over the same write
// path as the push broadcast, not a second source of truth; after eviction
// it diverges from the store and that is fine.
package poll

import (
	"sync"

	"chatrelay/internal/models"
)

const DefaultCapacity = 500

// Buffer is a FIFO ring of the most recently relayed messages. Oldest
// entries are dropped on overflow.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []models.Message
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Add appends a relayed message, evicting the oldest entry when full.
func (b *Buffer) Add(m models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, m)
}

// Since returns buffered messages with timestamp strictly greater than ts.
// The poller's own non-system messages are excluded (it already has them
// locally); system messages are never self-excluded.
func (b *Buffer) Since(ts int64, pollerID string) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.Message
	for _, m := range b.entries {
		if m.Timestamp <= ts {
			continue
		}
		if pollerID != "" && m.SenderID == pollerID && m.Kind != models.KindSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
