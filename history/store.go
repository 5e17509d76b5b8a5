package history

import (
	"log"
	"sync"
	"time"

	"github.com/guetchou/bantudelice-tracking/track"
)

// Config controls retention and the optional durable archive.
type Config struct {
	// MaxEventsPerTrack bounds each track's retained log. 0 keeps the
	// default.
	MaxEventsPerTrack int
	// MaxAge drops entries older than this at append time. 0 keeps the
	// default.
	MaxAge time.Duration
	// ArchivePath is a SQLite file for durable storage. Empty disables
	// the archive.
	ArchivePath string
}

const (
	defaultMaxEventsPerTrack = 10000
	defaultMaxAge            = 90 * 24 * time.Hour
)

// Store is the history log. Tracks are independent: pruning one never
// affects another.
type Store struct {
	mu      sync.RWMutex
	logs    map[string][]track.Event
	maxPer  int
	maxAge  time.Duration
	archive *Archive
}

// NewStore opens the store, loading the retained window from the
// archive when one is configured.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxEventsPerTrack <= 0 {
		cfg.MaxEventsPerTrack = defaultMaxEventsPerTrack
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	s := &Store{
		logs:   make(map[string][]track.Event),
		maxPer: cfg.MaxEventsPerTrack,
		maxAge: cfg.MaxAge,
	}
	if cfg.ArchivePath != "" {
		a, err := OpenArchive(cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		s.archive = a
		logs, err := a.LoadRecent(cfg.MaxEventsPerTrack, cfg.MaxAge)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		s.logs = logs
	}
	return s, nil
}

// Close closes the archive if one is open.
func (s *Store) Close() error {
	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}

// Append records ev at the tail of its track's log. Retention is
// enforced lazily here: oldest retained entries for this track are
// pruned first. Callers append under the track lock, so per-track
// appends arrive in sequence order.
func (s *Store) Append(ev track.Event) {
	s.mu.Lock()
	events := append(s.logs[ev.TrackingCode], ev)
	events = s.prune(events)
	s.logs[ev.TrackingCode] = events
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Append(ev); err != nil {
			log.Printf("history archive append failed for %s seq %d: %v", ev.TrackingCode, ev.Sequence, err)
		}
	}
}

func (s *Store) prune(events []track.Event) []track.Event {
	if len(events) > s.maxPer {
		events = events[len(events)-s.maxPer:]
	}
	cutoff := time.Now().Add(-s.maxAge)
	idx := 0
	for idx < len(events) && eventTime(events[idx]).Before(cutoff) {
		idx++
	}
	return events[idx:]
}

// Read returns up to limit events with sequence strictly greater than
// since, in append order. limit <= 0 means no limit.
func (s *Store) Read(code string, since uint64, limit int) []track.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.logs[code]
	start := 0
	for start < len(events) && events[start].Sequence <= since {
		start++
	}
	out := events[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]track.Event(nil), out...)
}

// ReadPage is Read with an additional offset, for the paged query API.
func (s *Store) ReadPage(code string, since uint64, limit, offset int) []track.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.logs[code]
	start := 0
	for start < len(events) && events[start].Sequence <= since {
		start++
	}
	if offset > 0 {
		start += offset
	}
	if start >= len(events) {
		return nil
	}
	out := events[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]track.Event(nil), out...)
}

// ReadLast returns the last k events for the track, in append order.
func (s *Store) ReadLast(code string, k int) []track.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.logs[code]
	if k > 0 && len(events) > k {
		events = events[len(events)-k:]
	}
	return append([]track.Event(nil), events...)
}

// Codes returns the tracking codes with retained history.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.logs))
	for code := range s.logs {
		codes = append(codes, code)
	}
	return codes
}

// Len returns the number of retained events for the track.
func (s *Store) Len(code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[code])
}

func eventTime(ev track.Event) time.Time {
	switch {
	case ev.Position != nil:
		return ev.Position.ReceivedAt
	case ev.Status != nil:
		return ev.Status.ChangedAt
	}
	return time.Time{}
}
