// Package events carries typed outline notifications between the collapse
// propagator, the navigator and any listeners (panels, relays).
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/outline"
)

// Type identifies the kind of event.
type Type string

const (
	TypeHeadingToggled Type = "heading.toggled"
	TypeOutlineChanged Type = "outline.changed"
	TypeActiveChanged  Type = "active.changed"
)

// Toggle is the payload of a heading.toggled event.
type Toggle struct {
	HeadingID string `json:"headingId"`
	Level     int    `json:"level"`
	Collapsed bool   `json:"collapsed"`
}

// Event is a single notification. Exactly one of the payload fields is set,
// matching Type.
type Event struct {
	Type       Type      `json:"type"`
	DocumentID string    `json:"documentId,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	At         time.Time `json:"at"`

	Toggle  *Toggle          `json:"toggle,omitempty"`
	Outline outline.Snapshot `json:"outline,omitempty"`
	// ActiveID is empty when the active pointer was cleared.
	ActiveID string `json:"activeId,omitempty"`
}

// Handler processes events.
type Handler func(Event)

type subscription struct {
	handler Handler
	types   map[Type]bool
}

// Bus delivers events synchronously to subscribers in subscription order.
//
// Bus is safe for concurrent use; relays publish from their own goroutines.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	order  []string
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[string]*subscription), logger: logger}
}

// Subscribe registers handler for the given types (all types when none are
// given) and returns the subscription id.
func (b *Bus) Subscribe(handler Handler, types ...Type) string {
	sub := &subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = sub
	b.order = append(b.order, id)
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish stamps the event time when unset and delivers it. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		sub := b.subs[id]
		if sub.types == nil || sub.types[event.Type] {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range targets {
		b.deliver(handler, event)
	}
}

func (b *Bus) deliver(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("events: handler panicked", "type", event.Type, "panic", r)
		}
	}()
	handler(event)
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
