// Package events carries provider error and success events from the
// executor and adapters into the quota daemon. The broadcaster is a value
// owned by the App, not a package singleton; subscribers receive events on
// buffered channels and are dropped-to rather than blocked-on.
package events

import (
	"sync"

	"github.com/routecodex/routecodex/internal/domain"
)

const subscriberBuffer = 256

// Broadcaster fans provider events out to subscribers.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  int
	errSubs map[int]chan domain.ProviderErrorEvent
	okSubs  map[int]chan domain.ProviderSuccessEvent
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		errSubs: make(map[int]chan domain.ProviderErrorEvent),
		okSubs:  make(map[int]chan domain.ProviderSuccessEvent),
	}
}

// PublishError delivers an error event to all subscribers. A subscriber
// with a full buffer misses the event; the daemon re-checks state at
// selection time so the system tolerates drops.
func (b *Broadcaster) PublishError(ev domain.ProviderErrorEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.errSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishSuccess delivers a success event to all subscribers.
func (b *Broadcaster) PublishSuccess(ev domain.ProviderSuccessEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.okSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscribeErrors returns a channel of error events and an unsubscribe
// function. Unsubscribe closes the channel.
func (b *Broadcaster) SubscribeErrors() (<-chan domain.ProviderErrorEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.ProviderErrorEvent, subscriberBuffer)
	b.errSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.errSubs[id]; ok {
			delete(b.errSubs, id)
			close(c)
		}
	}
}

// SubscribeSuccesses returns a channel of success events and an
// unsubscribe function.
func (b *Broadcaster) SubscribeSuccesses() (<-chan domain.ProviderSuccessEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.ProviderSuccessEvent, subscriberBuffer)
	b.okSubs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.okSubs[id]; ok {
			delete(b.okSubs, id)
			close(c)
		}
	}
}
