package track

import (
	"errors"
	"sync"
	"time"

	"github.com/guetchou/bantudelice-tracking/utils"
)

var (
	// ErrNotFound is returned for tracking codes the registry has
	// never seen.
	ErrNotFound = errors.New("tracking code not found")
	// ErrClosed is returned when ingestion is attempted on a track
	// that reached a terminal status. History stays readable.
	ErrClosed = errors.New("track closed")
	// ErrStaleTransition is returned for status changes that do not
	// advance the track (duplicate or out-of-order transitions).
	ErrStaleTransition = errors.New("stale status transition")
	// ErrInvalidReport marks validation failures at the report and
	// status boundaries. Nothing is recorded for a rejected input.
	ErrInvalidReport = errors.New("invalid report")
)

// State is the live state of one tracked delivery. It is mutated only
// while holding the track's lock via Registry.Locked.
type State struct {
	TrackingCode  string
	CurrentStatus Status
	LastPosition  *PositionEvent
	LastSequence  uint64
	DistanceKm    float64
	Subscribers   map[string]struct{}
	CreatedAt     time.Time
	ClosedAt      *time.Time

	lastStatusChangedAt time.Time
}

// Closed reports whether the track reached a terminal status.
func (s *State) Closed() bool { return s.ClosedAt != nil }

// NextSequence assigns the next sequence number for the track. Callers
// must hold the track lock.
func (s *State) NextSequence() uint64 {
	s.LastSequence++
	return s.LastSequence
}

// AdvancePosition records ev as the track's latest position if it is
// newer than what the track already knows. A report observed before the
// current last position is stale: the caller stores it for audit but
// must not broadcast it or let it move the live position. Returns
// whether the position advanced.
func (s *State) AdvancePosition(ev *PositionEvent) bool {
	if s.LastPosition != nil {
		if ev.Sequence <= s.LastPosition.Sequence {
			return false
		}
		if ev.ObservedAt.Before(s.LastPosition.ObservedAt) {
			return false
		}
		s.DistanceKm += utils.HaversineKM(
			s.LastPosition.Latitude, s.LastPosition.Longitude,
			ev.Latitude, ev.Longitude)
	}
	s.LastPosition = ev
	return true
}

// ApplyStatus applies a status transition. The change must be strictly
// newer than the current one; anything else is a stale transition. On a
// terminal status the track is closed for further ingestion.
func (s *State) ApplyStatus(status Status, changedAt time.Time) error {
	if s.Closed() {
		return ErrStaleTransition
	}
	if !s.lastStatusChangedAt.IsZero() && !changedAt.After(s.lastStatusChangedAt) {
		return ErrStaleTransition
	}
	s.CurrentStatus = status
	s.lastStatusChangedAt = changedAt
	if status.Terminal() {
		now := time.Now().UTC()
		s.ClosedAt = &now
	}
	return nil
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Registry maps tracking codes to live track state. Entries are created
// on first ingestion or first subscribe, whichever comes first.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{tracks: make(map[string]*entry)}
}

func (r *Registry) lookup(code string, create bool) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.tracks[code]
	r.mu.RUnlock()
	if ok || !create {
		return e, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.tracks[code]; ok {
		return e, true
	}
	e = &entry{state: State{
		TrackingCode:  code,
		CurrentStatus: StatusCreated,
		Subscribers:   make(map[string]struct{}),
		CreatedAt:     time.Now().UTC(),
	}}
	r.tracks[code] = e
	return e, true
}

// Ensure creates the track if needed and returns a snapshot of its
// state. Idempotent: a track may be subscribed-to before its first
// position report arrives.
func (r *Registry) Ensure(code string) State {
	e, _ := r.lookup(code, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.state)
}

// Get returns a snapshot of the track state, or ErrNotFound.
func (r *Registry) Get(code string) (State, error) {
	e, ok := r.lookup(code, false)
	if !ok {
		return State{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.state), nil
}

// Locked runs fn while holding the track's lock. This is the
// single-writer-per-track discipline: sequence assignment, registry
// updates, history appends and subscribe catch-up for one track are
// never interleaved, while different tracks proceed fully in parallel.
// With create false, an unknown code yields ErrNotFound.
func (r *Registry) Locked(code string, create bool, fn func(*State) error) error {
	e, ok := r.lookup(code, create)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.state)
}

// Len returns the number of known tracks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

func snapshot(s *State) State {
	out := *s
	out.Subscribers = make(map[string]struct{}, len(s.Subscribers))
	for id := range s.Subscribers {
		out.Subscribers[id] = struct{}{}
	}
	if s.LastPosition != nil {
		pos := *s.LastPosition
		out.LastPosition = &pos
	}
	if s.ClosedAt != nil {
		ts := *s.ClosedAt
		out.ClosedAt = &ts
	}
	return out
}
