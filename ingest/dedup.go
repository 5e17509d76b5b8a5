package ingest

import (
	"fmt"
	"sync"
	"time"
)

// dedupIndex remembers recently recorded reports per track so device
// retries do not create duplicate history entries.
type dedupIndex struct {
	mu     sync.Mutex
	window time.Duration
	tracks map[string][]dedupEntry
}

type dedupEntry struct {
	key        string
	sequence   uint64
	recordedAt time.Time
}

func newDedupIndex(window time.Duration) *dedupIndex {
	return &dedupIndex{window: window, tracks: make(map[string][]dedupEntry)}
}

// key prefers the device-supplied nonce; otherwise identical
// coordinates and device timestamp stand in for one.
func (d *dedupIndex) key(r Report) string {
	if r.Nonce != "" {
		return "n:" + r.Nonce
	}
	return fmt.Sprintf("c:%.7f:%.7f:%d", r.Latitude, r.Longitude, r.ObservedAt.UnixNano())
}

// seen reports whether an equivalent report was recorded inside the
// window, returning the sequence assigned to the original.
func (d *dedupIndex) seen(r Report, now time.Time) (uint64, bool) {
	key := d.key(r)
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.expireLocked(r.TrackingCode, now)
	for _, e := range entries {
		if e.key == key {
			return e.sequence, true
		}
	}
	return 0, false
}

// record remembers the report under its dedup key.
func (d *dedupIndex) record(r Report, sequence uint64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.expireLocked(r.TrackingCode, now)
	d.tracks[r.TrackingCode] = append(entries, dedupEntry{key: d.key(r), sequence: sequence, recordedAt: now})
}

// expireLocked drops entries older than the window. Caller holds d.mu.
func (d *dedupIndex) expireLocked(code string, now time.Time) []dedupEntry {
	entries := d.tracks[code]
	cutoff := now.Add(-d.window)
	idx := 0
	for idx < len(entries) && entries[idx].recordedAt.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		entries = entries[idx:]
	}
	if len(entries) == 0 {
		delete(d.tracks, code)
		return nil
	}
	d.tracks[code] = entries
	return entries
}
