package broadcast

import (
	"sync"

	"github.com/guetchou/bantudelice-tracking/track"
)

const defaultQueueCapacity = 64

// Queue is one subscriber's bounded outbound delivery queue. Pushes
// never block; when the queue is full the oldest undelivered event is
// dropped and the subscriber owes itself a resync for that track.
type Queue struct {
	mu       sync.Mutex
	buf      []track.Event
	capacity int
	// resync holds, per track that lost events, the sequence the live
	// stream resumes from. Emitted ahead of buffered events.
	resync map[string]uint64
	order  []string
	wake   chan struct{}
	closed bool
	drops  uint64
}

// NewQueue creates a queue with the given capacity (0 uses the default).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		resync:   make(map[string]uint64),
		wake:     make(chan struct{}, 1),
	}
}

// Push enqueues ev, dropping the oldest entry on overflow. Returns
// whether an event was dropped.
func (q *Queue) Push(ev track.Event) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.buf) >= q.capacity {
		old := q.buf[0]
		q.buf = q.buf[1:]
		if old.Kind != track.KindResync {
			if _, pending := q.resync[old.TrackingCode]; !pending {
				q.order = append(q.order, old.TrackingCode)
			}
			q.resync[old.TrackingCode] = old.Sequence
		}
		q.drops++
		dropped = true
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()
	q.signal()
	return dropped
}

// Receive blocks until an event is available, the queue is closed, or
// done fires. Pending resync markers are delivered before buffered
// events so a lagging subscriber learns about the gap first.
func (q *Queue) Receive(done <-chan struct{}) (track.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			code := q.order[0]
			q.order = q.order[1:]
			seq := q.resync[code]
			delete(q.resync, code)
			q.mu.Unlock()
			return track.Event{Kind: track.KindResync, TrackingCode: code, Sequence: seq, NextSequence: seq + 1}, true
		}
		if len(q.buf) > 0 {
			ev := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return track.Event{}, false
		}
		select {
		case <-q.wake:
		case <-done:
			return track.Event{}, false
		}
	}
}

// Close wakes any blocked receiver and rejects further pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Drops returns how many events this queue has discarded.
func (q *Queue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
