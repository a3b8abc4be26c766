package notify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"offerflow/workflow"
)

// DeadLetterSink keeps events that exhausted their delivery attempts for
// manual follow-up.
type DeadLetterSink interface {
	Bury(ctx context.Context, ev workflow.Event, cause error) error
}

type DeadLetter struct {
	Event    workflow.Event
	Reason   string
	BuriedAt time.Time
}

type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (m *MemoryDeadLetters) Bury(ctx context.Context, ev workflow.Event, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, DeadLetter{Event: ev, Reason: cause.Error(), BuriedAt: time.Now()})
	return nil
}

func (m *MemoryDeadLetters) List() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.letters))
	copy(out, m.letters)
	return out
}

// SQLiteDeadLetters persists dead letters to a local SQLite file so they
// survive restarts even when the primary database is the failing dependency.
type SQLiteDeadLetters struct {
	db *sql.DB
}

func OpenSQLiteDeadLetters(path string) (*SQLiteDeadLetters, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("notify: open dead letters: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id     TEXT NOT NULL UNIQUE,
    event_type   TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    request_id   TEXT NOT NULL,
    offer_id     TEXT NOT NULL DEFAULT '',
    payload      BLOB,
    occurred_at  TEXT NOT NULL,
    reason       TEXT NOT NULL,
    buried_at    TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("notify: migrate dead letters: %w", err)
	}
	return &SQLiteDeadLetters{db: db}, nil
}

func (s *SQLiteDeadLetters) Bury(ctx context.Context, ev workflow.Event, cause error) error {
	const query = `
INSERT INTO dead_letters (event_id, event_type, recipient_id, request_id, offer_id, payload, occurred_at, reason, buried_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO UPDATE SET reason = excluded.reason, buried_at = excluded.buried_at`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		string(ev.Type),
		ev.RecipientID,
		ev.RequestID,
		ev.OfferID,
		[]byte(ev.Payload),
		ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		cause.Error(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("notify: bury %s: %w", ev.ID, err)
	}
	return nil
}

// List returns dead letters oldest first.
func (s *SQLiteDeadLetters) List(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event_type, recipient_id, request_id, offer_id, payload, occurred_at, reason, buried_at
FROM dead_letters ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("notify: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl                 DeadLetter
			evType             string
			payload            []byte
			occurredAt, buried string
		)
		if err := rows.Scan(&dl.Event.ID, &evType, &dl.Event.RecipientID, &dl.Event.RequestID, &dl.Event.OfferID, &payload, &occurredAt, &dl.Reason, &buried); err != nil {
			return nil, fmt.Errorf("notify: scan dead letter: %w", err)
		}
		dl.Event.Type = workflow.EventType(evType)
		dl.Event.Payload = payload
		dl.Event.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		dl.BuriedAt, _ = time.Parse(time.RFC3339Nano, buried)
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *SQLiteDeadLetters) Close() error {
	return s.db.Close()
}
