package broadcast

import (
	"sync"

	"github.com/guetchou/bantudelice-tracking/track"
)

// Broadcaster routes each published event to the queues of the track's
// current subscribers.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Queue // tracking code -> subscriber id -> queue

	// OnDrop, when set, is invoked once per discarded event. Used for
	// metrics.
	OnDrop func(trackingCode, subscriberID string)
	// OnPublish, when set, is invoked once per published event.
	OnPublish func(ev track.Event)
}

func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[string]*Queue)}
}

// Attach registers the subscriber's queue for a track.
func (b *Broadcaster) Attach(code, subscriberID string, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.subs[code]
	if !ok {
		m = make(map[string]*Queue)
		b.subs[code] = m
	}
	m[subscriberID] = q
}

// Detach removes the subscriber from a track. Idempotent.
func (b *Broadcaster) Detach(code, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[code]; ok {
		delete(m, subscriberID)
		if len(m) == 0 {
			delete(b.subs, code)
		}
	}
}

// Publish delivers ev to every live subscriber of its track. Never
// blocks on a slow subscriber; overflow is handled inside each queue.
func (b *Broadcaster) Publish(ev track.Event) {
	if b.OnPublish != nil {
		b.OnPublish(ev)
	}
	b.mu.RLock()
	m := b.subs[ev.TrackingCode]
	// Copy so slow queue bookkeeping happens outside the map lock.
	queues := make(map[string]*Queue, len(m))
	for id, q := range m {
		queues[id] = q
	}
	b.mu.RUnlock()

	for id, q := range queues {
		if q.Push(ev) && b.OnDrop != nil {
			b.OnDrop(ev.TrackingCode, id)
		}
	}
}

// Subscribers returns how many subscribers a track currently has.
func (b *Broadcaster) Subscribers(code string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[code])
}
