package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveAppendIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer func() { _ = a.Close() }()

	ev := positionEvent("BD-1", 1, time.Now().UTC())
	if err := a.Append(ev); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := a.Append(ev); err != nil {
		t.Fatalf("retried append: %v", err)
	}

	logs, err := a.LoadRecent(0, 24*time.Hour)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(logs["BD-1"]) != 1 {
		t.Fatalf("retried append should be a no-op, got %d rows", len(logs["BD-1"]))
	}
	t.Logf("✓ primary key absorbs retried appends")
}

func TestArchiveLoadRecentOrdersBySequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer func() { _ = a.Close() }()

	now := time.Now().UTC()
	for _, seq := range []uint64{3, 1, 2} {
		if err := a.Append(positionEvent("BD-1", seq, now)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	logs, err := a.LoadRecent(0, 24*time.Hour)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	events := logs["BD-1"]
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if want := uint64(i + 1); ev.Sequence != want {
			t.Errorf("row %d: expected sequence %d, got %d", i, want, ev.Sequence)
		}
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	now := time.Now().UTC()

	s1, err := NewStore(Config{ArchivePath: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		s1.Append(positionEvent("BD-1", seq, now))
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	s2, err := NewStore(Config{ArchivePath: path})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got := s2.Read("BD-1", 0, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events after reopen, got %d", len(got))
	}
	if got[0].Position == nil || got[0].Position.Latitude != -4.26 {
		t.Errorf("payload should round-trip through the archive")
	}
	t.Logf("✓ history survives a restart")
}
