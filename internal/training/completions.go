// Package training exposes the read-only training-completion facts the exam
// eligibility gate consumes. Training content, progress tracking, and catalog
// administration live elsewhere; this package only answers "how many assigned
// trainings has this learner not finished".
package training

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLCompletions counts a learner's unfinished trainings across the trainings
// assigned to their project.
type SQLCompletions struct {
	db *sql.DB
}

func NewSQLCompletions(db *sql.DB) *SQLCompletions {
	return &SQLCompletions{db: db}
}

func (s *SQLCompletions) IncompleteTrainingCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM trainings t
		JOIN users u ON u.project_id = t.project_id
		WHERE u.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM training_completions tc
			WHERE tc.user_id = u.id AND tc.training_id = t.id
		  )`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete trainings: %w", err)
	}
	return n, nil
}

// MemoryCompletions is a fixture implementation for tests and dev.
type MemoryCompletions struct {
	Counts map[string]int // userID -> incomplete count
}

func (m *MemoryCompletions) IncompleteTrainingCount(_ context.Context, userID string) (int, error) {
	return m.Counts[userID], nil
}
