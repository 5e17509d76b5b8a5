package history

import (
	"testing"
	"time"

	"github.com/guetchou/bantudelice-tracking/track"
)

func positionEvent(code string, seq uint64, received time.Time) track.Event {
	return track.Event{
		Kind:         track.KindPosition,
		TrackingCode: code,
		Sequence:     seq,
		Position: &track.PositionEvent{
			TrackingCode:   code,
			Latitude:       -4.26,
			Longitude:      15.28,
			AccuracyMeters: 10,
			ObservedAt:     received,
			ReceivedAt:     received,
			Sequence:       seq,
		},
	}
}

func newMemStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReadSinceIsExclusive(t *testing.T) {
	s := newMemStore(t, Config{})
	now := time.Now().UTC()
	for seq := uint64(1); seq <= 5; seq++ {
		s.Append(positionEvent("BD-1", seq, now))
	}

	got := s.Read("BD-1", 2, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events after sequence 2, got %d", len(got))
	}
	for i, ev := range got {
		if want := uint64(3 + i); ev.Sequence != want {
			t.Errorf("event %d: expected sequence %d, got %d", i, want, ev.Sequence)
		}
	}
	t.Logf("✓ since is exclusive: got sequences 3..5")
}

func TestReadLimit(t *testing.T) {
	s := newMemStore(t, Config{})
	now := time.Now().UTC()
	for seq := uint64(1); seq <= 10; seq++ {
		s.Append(positionEvent("BD-1", seq, now))
	}

	got := s.Read("BD-1", 0, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got[0].Sequence != 1 || got[3].Sequence != 4 {
		t.Errorf("limit should keep the oldest matching events, got %d..%d", got[0].Sequence, got[3].Sequence)
	}
}

func TestReadPageOffset(t *testing.T) {
	s := newMemStore(t, Config{})
	now := time.Now().UTC()
	for seq := uint64(1); seq <= 10; seq++ {
		s.Append(positionEvent("BD-1", seq, now))
	}

	got := s.ReadPage("BD-1", 0, 3, 5)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Sequence != 6 {
		t.Errorf("offset 5 should start at sequence 6, got %d", got[0].Sequence)
	}

	if got := s.ReadPage("BD-1", 0, 3, 50); got != nil {
		t.Errorf("offset past the end should return nothing, got %d events", len(got))
	}
}

func TestReadLast(t *testing.T) {
	s := newMemStore(t, Config{})
	now := time.Now().UTC()
	for seq := uint64(1); seq <= 6; seq++ {
		s.Append(positionEvent("BD-1", seq, now))
	}

	got := s.ReadLast("BD-1", 2)
	if len(got) != 2 || got[0].Sequence != 5 || got[1].Sequence != 6 {
		t.Fatalf("expected last 2 events (5, 6), got %+v", got)
	}
}

func TestCountRetentionPerTrack(t *testing.T) {
	s := newMemStore(t, Config{MaxEventsPerTrack: 3})
	now := time.Now().UTC()
	for seq := uint64(1); seq <= 5; seq++ {
		s.Append(positionEvent("BD-1", seq, now))
	}
	s.Append(positionEvent("BD-2", 1, now))

	if s.Len("BD-1") != 3 {
		t.Errorf("expected 3 retained events for BD-1, got %d", s.Len("BD-1"))
	}
	got := s.Read("BD-1", 0, 0)
	if got[0].Sequence != 3 {
		t.Errorf("pruning should keep the newest events, oldest retained is %d", got[0].Sequence)
	}
	if s.Len("BD-2") != 1 {
		t.Errorf("pruning BD-1 must not touch BD-2, got %d", s.Len("BD-2"))
	}
	t.Logf("✓ retention is per track")
}

func TestAgeRetention(t *testing.T) {
	s := newMemStore(t, Config{MaxAge: time.Hour})
	now := time.Now().UTC()
	s.Append(positionEvent("BD-1", 1, now.Add(-2*time.Hour)))
	s.Append(positionEvent("BD-1", 2, now))

	got := s.Read("BD-1", 0, 0)
	if len(got) != 1 || got[0].Sequence != 2 {
		t.Fatalf("expected only the fresh event to survive, got %+v", got)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	s := newMemStore(t, Config{})
	now := time.Now().UTC()
	s.Append(positionEvent("BD-1", 1, now))
	s.Append(positionEvent("BD-1", 2, now))

	got := s.Read("BD-1", 0, 0)
	got[0].Sequence = 999

	again := s.Read("BD-1", 0, 0)
	if again[0].Sequence != 1 {
		t.Errorf("mutating a read result must not corrupt the log")
	}
}
