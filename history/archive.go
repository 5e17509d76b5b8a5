package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guetchou/bantudelice-tracking/track"
)

// Archive is a SQLite-backed durable copy of the history log.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates the archive database at the given path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		tracking_code TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (tracking_code, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Append stores ev durably. The primary key makes retried appends
// idempotent.
func (a *Archive) Append(ev track.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(
		`INSERT OR IGNORE INTO events (tracking_code, sequence, kind, recorded_at, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.TrackingCode, int64(ev.Sequence), string(ev.Kind),
		eventTime(ev).UTC().Format(time.RFC3339Nano), string(payload),
	)
	return err
}

// LoadRecent returns the retained window per track, oldest first,
// bounded by maxPerTrack and maxAge. Used to rebuild the in-memory log
// on startup.
func (a *Archive) LoadRecent(maxPerTrack int, maxAge time.Duration) (map[string][]track.Event, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339Nano)
	rows, err := a.db.Query(
		`SELECT payload FROM events WHERE recorded_at > ? ORDER BY tracking_code, sequence`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	logs := make(map[string][]track.Event)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev track.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		logs[ev.TrackingCode] = append(logs[ev.TrackingCode], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for code, events := range logs {
		if maxPerTrack > 0 && len(events) > maxPerTrack {
			logs[code] = events[len(events)-maxPerTrack:]
		}
	}
	return logs, nil
}
