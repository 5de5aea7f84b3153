// Package events fans document status events out to subscribers.
//
// Publish never blocks: each subscriber owns a buffered channel and events
// that don't fit are dropped and counted. Events for one document reach a
// subscriber in publication order.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// DefaultBuffer is the per-subscriber channel capacity used when Subscribe gets a non-positive size
const DefaultBuffer = 64

// Publisher accepts status events
type Publisher interface {
	Publish(ev types.StatusEvent)
}

// Bus is an in-process fan-out of status events
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan types.StatusEvent
	nextID  uint64
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]chan types.StatusEvent),
		logger: logger.With("component", "events"),
	}
}

// Publish delivers ev to every subscriber that has room for it
func (b *Bus) Publish(ev types.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber too slow, dropping event",
				"subscriber", id, "document_id", ev.DocumentID, "status", ev.Status)
		}
	}
}

// Subscribe registers a subscriber. cancel unregisters it and closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan types.StatusEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan types.StatusEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of registered subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Multi publishes to several publishers in order
type Multi []Publisher

func (m Multi) Publish(ev types.StatusEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(types.StatusEvent)

func (f PublisherFunc) Publish(ev types.StatusEvent) { f(ev) }
