// Package buffer holds the bounded in-memory window of recent ticks for the active symbol.
package buffer

import (
	"sync"

	"github.com/rewired-gh/pricewatch/internal/models"
)

// DefaultCapacity is the number of ticks retained when no capacity is given.
const DefaultCapacity = 20

// Buffer is a newest-first, deduplicated, bounded sequence of ticks bound to one symbol.
// Order is arrival order; late ticks go to the front, nothing is sorted by timestamp.
type Buffer struct {
	mu       sync.RWMutex
	symbol   string
	capacity int
	ticks    []models.Tick
}

// New creates an unbound buffer. A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		ticks:    make([]models.Tick, 0, capacity),
	}
}

// Accept prepends the tick and truncates to capacity.
//
// It returns false, leaving the buffer untouched, when the tick belongs to
// another symbol. A tick whose identity is already present is moved to the
// front and also reported as false so it is not persisted or evaluated twice.
func (b *Buffer) Accept(tick models.Tick) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.symbol == "" || tick.Symbol != b.symbol {
		return false
	}

	key := tick.Key()
	duplicate := false
	for i := range b.ticks {
		if b.ticks[i].Key() == key {
			b.ticks = append(b.ticks[:i], b.ticks[i+1:]...)
			duplicate = true
			break
		}
	}

	b.ticks = append(b.ticks, models.Tick{})
	copy(b.ticks[1:], b.ticks)
	b.ticks[0] = tick
	if len(b.ticks) > b.capacity {
		b.ticks = b.ticks[:b.capacity]
	}
	return !duplicate
}

// Snapshot returns a newest-first copy of the buffered ticks.
func (b *Buffer) Snapshot() []models.Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Tick, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// Rebind clears the buffer and binds it to symbol.
func (b *Buffer) Rebind(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbol = symbol
	b.ticks = b.ticks[:0]
}

// Symbol returns the bound symbol, or "" when unbound.
func (b *Buffer) Symbol() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.symbol
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ticks)
}

func (b *Buffer) Capacity() int {
	return b.capacity
}
