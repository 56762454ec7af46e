// Package audit keeps an append-only log of attempt lifecycle transitions.
// Certification audits need to reconstruct when an attempt started and how it
// ended, so events are written on the state changes and never updated.
package audit

import (
	"context"
	"database/sql"
)

const (
	EventStarted   = "attempt.started"
	EventSubmitted = "attempt.submitted"
)

type Event struct {
	AttemptID string
	ExamID    string
	UserID    string
	Type      string
	// DetailJSON carries event-specific fields (trigger, score) as a JSON blob.
	DetailJSON string
	At         int64 // unix seconds
}

// Log receives lifecycle events. Implementations must not block the attempt
// flow on failure; the caller treats a write error as non-fatal.
type Log interface {
	Append(ctx context.Context, e Event) error
}

type SQLLog struct{ db *sql.DB }

func NewSQLLog(db *sql.DB) *SQLLog { return &SQLLog{db: db} }

func (l *SQLLog) Append(ctx context.Context, e Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO attempt_events (attempt_id, exam_id, user_id, typ, detail, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.AttemptID, e.ExamID, e.UserID, e.Type, e.DetailJSON, e.At)
	return err
}

// MemoryLog collects events for tests.
type MemoryLog struct{ Events []Event }

func (l *MemoryLog) Append(_ context.Context, e Event) error {
	l.Events = append(l.Events, e)
	return nil
}

// NopLog drops everything; used when auditing is not configured.
type NopLog struct{}

func (NopLog) Append(context.Context, Event) error { return nil }
