// Package eventlog persists a record of the Scheduler's change
// notifications to a local SQLite database, for diagnostics and audit.
// This is deliberately not scheduler *state*: on restart the Scheduler
// rebuilds its entries and active set from scratch; the event log only
// remembers that notifications occurred.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"
)

// Event is one recorded scheduler notification.
type Event struct {
	ID         int64
	Kind       string
	Detail     string
	OccurredAt time.Time
}

// EventLog is a SQLite-backed append-only log of scheduler notifications.
type EventLog struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the event log database
// at path.
func Open(path string) (*EventLog, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &EventLog{db: db}, nil
}

func (l *EventLog) Close() error {
	return l.db.Close()
}

// Record appends one notification. detail is a short human-readable
// summary (e.g. the affected entry ids), not a structured payload — the
// log is for diagnostics, not replay.
func (l *EventLog) Record(kind, detail string, occurredAt time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO scheduler_events (kind, detail, occurred_at_ns) VALUES (?, ?, ?)`,
		kind, detail, occurredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("eventlog: record %s: %w", kind, err)
	}
	return nil
}

// Recent returns the most recently recorded events, newest first, bounded
// by limit.
func (l *EventLog) Recent(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT id, kind, detail, occurred_at_ns FROM scheduler_events
		 ORDER BY occurred_at_ns DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var occurredNs int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &occurredNs); err != nil {
			return nil, fmt.Errorf("eventlog: scan row: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurredNs).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate rows: %w", err)
	}
	return events, nil
}
