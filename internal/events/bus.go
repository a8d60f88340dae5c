// Package events is a lightweight in-process pub-sub bus for fact-store
// changes. The extraction pipeline publishes; the cache invalidator
// subscribes so a user's assembled context never serves stale facts for
// a full TTL.
package events

// Kind is the type of domain event produced by the fact pipeline.
type Kind string

const (
	// FactStored fires when a new long-term fact is inserted.
	FactStored Kind = "fact_stored"
	// FactReinforced fires when a near-duplicate raises an existing
	// fact's importance.
	FactReinforced Kind = "fact_reinforced"
)

// Event carries only IDs; consumers query the store for full records.
type Event struct {
	Kind   Kind
	UserID string
	FactID string
}

// Bus is backed by a buffered channel. Publish never blocks the
// producer: when the buffer is full the event is dropped, which is safe
// because cache entries expire on their own.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish attempts to enqueue without blocking. Returns false when the
// buffer is full and the event was dropped.
func (b *Bus) Publish(evt Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Subscribe returns the read-only consumer channel.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}
