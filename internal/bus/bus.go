package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is the terminal's in-process publish/subscribe hub. Components never
// call each other for state changes; they publish here and whoever cares
// subscribes by kind prefix.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A subscriber with a full buffer misses the event; Publish never blocks.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Notify publishes a user-facing notification under one of the notify.* kinds.
func (b *Bus) Notify(kind, message string) {
	b.Emit(kind, Notification{Message: message})
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// and a function that removes the subscription. An empty prefix matches all
// events.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
