// Package archive is the optional durable sink for terminal events. The
// bus never requires it for correctness: an unbound archive simply
// means completed and failed events are not retained past their
// in-memory dead-letter ring.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/privatehub/corebus/internal/bus"
)

// Store persists terminal events as single JSON records keyed by event
// id. It holds events only: webhook registrations and personal-log user
// configuration live solely in their in-memory registries and are not
// persisted here.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed archive at path
// and runs its migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			user_id TEXT,
			record_json TEXT NOT NULL,
			archived_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
		CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes e as a single JSON row, keyed by event id. Only events
// that reached a terminal status (completed or failed) should be
// passed here — the dispatcher's onTerminal hook is the usual caller.
func (s *Store) Record(e bus.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("archive: marshal event %s: %w", e.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, category, source, status, user_id, record_json, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record_json = excluded.record_json,
			archived_at = excluded.archived_at
	`, e.ID, string(e.Category), e.Source, string(e.ProcessingStatus), e.UserID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive: insert event %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves one archived event's record by id.
func (s *Store) Get(id string) (bus.Event, bool, error) {
	row := s.db.QueryRow(`SELECT record_json FROM events WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return bus.Event{}, false, nil
		}
		return bus.Event{}, false, fmt.Errorf("archive: get event %s: %w", id, err)
	}
	var e bus.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return bus.Event{}, false, fmt.Errorf("archive: unmarshal event %s: %w", id, err)
	}
	return e, true, nil
}

// RecentForUser returns the most recent archived events for a user, up
// to limit, newest first.
func (s *Store) RecentForUser(userID string, limit int) ([]bus.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT record_json FROM events
		WHERE user_id = ?
		ORDER BY archived_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []bus.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("archive: scan row: %w", err)
		}
		var e bus.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("archive: unmarshal event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
