package livesync

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBus is an in-process change-event bus. Fan-out to every matching
// subscriber; a subscriber whose buffer is full loses the event rather than
// blocking publishers (observers recover via Resync).
type MemoryBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]*memorySub
}

type memorySub struct {
	filter Filter
	ch     chan ChangeEvent
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

// Publish fans the event out to all matching subscribers without blocking.
func (b *MemoryBus) Publish(_ context.Context, ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// Subscribe attaches a filtered observer. The subscription ends when Cancel
// is called or ctx is done, whichever comes first.
func (b *MemoryBus) Subscribe(ctx context.Context, filter Filter) *Subscription {
	sub := &memorySub{filter: filter, ch: make(chan ChangeEvent, subscriberBuffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}

	stop := context.AfterFunc(ctx, cancel)
	return &Subscription{C: sub.ch, cancel: func() {
		stop()
		cancel()
	}}
}
