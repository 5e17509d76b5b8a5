package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guetchou/bantudelice-tracking/broadcast"
	"github.com/guetchou/bantudelice-tracking/history"
	"github.com/guetchou/bantudelice-tracking/track"
)

// Sink is the transport half of a subscriber connection. Send is only
// ever called from the subscriber's delivery goroutine.
type Sink interface {
	Send(ev track.Event) error
	Close() error
}

// Snapshot is the immediate answer to a subscribe call: current state
// plus any catch-up events, delivered before the live stream resumes.
type Snapshot struct {
	TrackingCode string               `json:"trackingCode"`
	Status       track.Status         `json:"status"`
	LastPosition *track.PositionEvent `json:"lastPosition,omitempty"`
	LastSequence uint64               `json:"lastSequence"`
	Closed       bool                 `json:"closed"`
	CatchUp      []track.Event        `json:"catchUp,omitempty"`
}

// Subscriber is one observer connection with its subscriptions and ack
// bookkeeping. Owned exclusively by the Manager.
type Subscriber struct {
	ID string

	sink  Sink
	queue *broadcast.Queue
	done  chan struct{}

	mu      sync.Mutex
	tracks  map[string]struct{}
	lastAck map[string]uint64
}

type residual struct {
	lastAck map[string]uint64
	expires time.Time
}

// Config tunes the manager.
type Config struct {
	// QueueCapacity bounds each subscriber's outbound queue.
	QueueCapacity int
	// CatchUpLimit caps the events replayed on one subscribe. 0 uses
	// the default.
	CatchUpLimit int
	// AckGrace is how long ack bookkeeping survives a disconnect so a
	// fast reconnect can resume without replaying everything.
	AckGrace time.Duration
}

const (
	defaultCatchUpLimit = 1000
	defaultAckGrace     = 5 * time.Minute
)

// Manager tracks subscriber connections and their subscribed tracks.
type Manager struct {
	reg   *track.Registry
	store *history.Store
	bc    *broadcast.Broadcaster
	cfg   Config

	mu       sync.Mutex
	subs     map[string]*Subscriber
	residual map[string]*residual
}

func NewManager(reg *track.Registry, store *history.Store, bc *broadcast.Broadcaster, cfg Config) *Manager {
	if cfg.CatchUpLimit <= 0 {
		cfg.CatchUpLimit = defaultCatchUpLimit
	}
	if cfg.AckGrace <= 0 {
		cfg.AckGrace = defaultAckGrace
	}
	return &Manager{
		reg:      reg,
		store:    store,
		bc:       bc,
		cfg:      cfg,
		subs:     make(map[string]*Subscriber),
		residual: make(map[string]*residual),
	}
}

// Connect registers a subscriber connection and starts its delivery
// loop. An empty id mints a new one. A reconnect within the grace
// period resumes the previous ack bookkeeping.
func (m *Manager) Connect(id string, sink Sink) *Subscriber {
	if id == "" {
		id = uuid.NewString()
	}
	sub := &Subscriber{
		ID:      id,
		sink:    sink,
		queue:   broadcast.NewQueue(m.cfg.QueueCapacity),
		done:    make(chan struct{}),
		tracks:  make(map[string]struct{}),
		lastAck: make(map[string]uint64),
	}

	m.mu.Lock()
	m.purgeResidualLocked()
	if prev, ok := m.subs[id]; ok {
		// Same id reconnected before the old connection was reaped.
		prev.mu.Lock()
		for code, seq := range prev.lastAck {
			sub.lastAck[code] = seq
		}
		prev.mu.Unlock()
		m.detachLocked(prev)
	}
	if res, ok := m.residual[id]; ok {
		for code, seq := range res.lastAck {
			sub.lastAck[code] = seq
		}
		delete(m.residual, id)
	}
	m.subs[id] = sub
	m.mu.Unlock()

	go m.deliver(sub)
	return sub
}

func (m *Manager) deliver(sub *Subscriber) {
	for {
		ev, ok := sub.queue.Receive(sub.done)
		if !ok {
			return
		}
		if err := sub.sink.Send(ev); err != nil {
			log.Printf("subscriber %s send failed: %v", sub.ID, err)
			m.disconnect(sub)
			return
		}
	}
}

// Subscribe registers interest in a track and returns the immediate
// snapshot. lastAck > 0 is a reconnect: history since that sequence is
// replayed in the snapshot before live events resume. lastAck == 0
// falls back to any bookkeeping retained from a previous connection.
func (m *Manager) Subscribe(subscriberID, code string, lastAck uint64) (Snapshot, error) {
	if code == "" {
		return Snapshot{}, fmt.Errorf("%w: trackingCode is required", track.ErrInvalidReport)
	}
	m.mu.Lock()
	sub, ok := m.subs[subscriberID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrUnknownSubscriber
	}

	sub.mu.Lock()
	if lastAck == 0 {
		lastAck = sub.lastAck[code]
	} else {
		sub.lastAck[code] = lastAck
	}
	sub.mu.Unlock()

	var snap Snapshot
	err := m.reg.Locked(code, true, func(st *track.State) error {
		snap = Snapshot{
			TrackingCode: code,
			Status:       st.CurrentStatus,
			LastPosition: st.LastPosition,
			LastSequence: st.LastSequence,
			Closed:       st.Closed(),
		}
		if lastAck > 0 {
			snap.CatchUp = m.store.Read(code, lastAck, m.cfg.CatchUpLimit)
			// A gap wider than the replay cap is surfaced the same way
			// a queue overflow is: an explicit resync marker telling
			// the subscriber where the live stream resumes, so it can
			// fetch the rest through the history API instead of
			// silently losing the sequences in between.
			if n := len(snap.CatchUp); n == m.cfg.CatchUpLimit && snap.CatchUp[n-1].Sequence < st.LastSequence {
				snap.CatchUp = append(snap.CatchUp, track.Event{
					Kind:         track.KindResync,
					TrackingCode: code,
					Sequence:     st.LastSequence,
					NextSequence: st.LastSequence + 1,
				})
			}
		}
		// Attach under the track lock: no event published after the
		// catch-up read can be missed by the live queue.
		m.bc.Attach(code, subscriberID, sub.queue)
		st.Subscribers[subscriberID] = struct{}{}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	sub.mu.Lock()
	sub.tracks[code] = struct{}{}
	sub.mu.Unlock()
	return snap, nil
}

// Unsubscribe removes interest in a track. Idempotent.
func (m *Manager) Unsubscribe(subscriberID, code string) {
	m.mu.Lock()
	sub, ok := m.subs[subscriberID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bc.Detach(code, subscriberID)
	_ = m.reg.Locked(code, false, func(st *track.State) error {
		delete(st.Subscribers, subscriberID)
		return nil
	})
	sub.mu.Lock()
	delete(sub.tracks, code)
	sub.mu.Unlock()
}

// Ack records the last sequence the subscriber has processed for a
// track, used for catch-up after a reconnect.
func (m *Manager) Ack(subscriberID, code string, sequence uint64) {
	m.mu.Lock()
	sub, ok := m.subs[subscriberID]
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	if sequence > sub.lastAck[code] {
		sub.lastAck[code] = sequence
	}
	sub.mu.Unlock()
}

// Disconnect removes the subscriber from every track it follows and
// stops its delivery loop. Ack bookkeeping is retained for the grace
// period so a fast reconnect resumes without a full replay.
func (m *Manager) Disconnect(subscriberID string) {
	m.mu.Lock()
	sub, ok := m.subs[subscriberID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.disconnect(sub)
}

// disconnect tears down sub unless a newer connection already replaced
// it under the same id.
func (m *Manager) disconnect(sub *Subscriber) {
	m.mu.Lock()
	if current, ok := m.subs[sub.ID]; !ok || current != sub {
		m.mu.Unlock()
		return
	}
	delete(m.subs, sub.ID)
	m.detachLocked(sub)

	sub.mu.Lock()
	acks := make(map[string]uint64, len(sub.lastAck))
	for code, seq := range sub.lastAck {
		acks[code] = seq
	}
	sub.mu.Unlock()
	if len(acks) > 0 {
		m.residual[sub.ID] = &residual{lastAck: acks, expires: time.Now().Add(m.cfg.AckGrace)}
	}
	m.mu.Unlock()
}

// detachLocked tears down the subscriber's queue, broadcaster entries
// and registry membership. Caller holds m.mu.
func (m *Manager) detachLocked(sub *Subscriber) {
	sub.mu.Lock()
	codes := make([]string, 0, len(sub.tracks))
	for code := range sub.tracks {
		codes = append(codes, code)
	}
	sub.mu.Unlock()

	for _, code := range codes {
		m.bc.Detach(code, sub.ID)
		_ = m.reg.Locked(code, false, func(st *track.State) error {
			delete(st.Subscribers, sub.ID)
			return nil
		})
	}
	close(sub.done)
	sub.queue.Close()
	_ = sub.sink.Close()
}

// DropTrack removes every subscriber from a closed track. The closed
// event has already been queued by the caller, so subscribers still see
// the terminal signal before delivery stops.
func (m *Manager) DropTrack(code string) {
	m.mu.Lock()
	subs := make([]*Subscriber, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		_, follows := sub.tracks[code]
		delete(sub.tracks, code)
		delete(sub.lastAck, code)
		sub.mu.Unlock()
		if follows {
			m.bc.Detach(code, sub.ID)
		}
	}
	_ = m.reg.Locked(code, false, func(st *track.State) error {
		st.Subscribers = make(map[string]struct{})
		return nil
	})
}

// Count returns the number of connected subscribers.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// purgeResidualLocked drops expired post-disconnect bookkeeping.
// Caller holds m.mu.
func (m *Manager) purgeResidualLocked() {
	now := time.Now()
	for id, res := range m.residual {
		if now.After(res.expires) {
			delete(m.residual, id)
		}
	}
}
