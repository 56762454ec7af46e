package exam

import (
	"context"
	"time"
)

type AttemptListOpts struct {
	ExamID string // filter by exam
	UserID string // filter by learner
	Status string // optional: in_progress|completed
	Limit  int
	Offset int
}

// Finish holds the fields the winning Submit computes for an attempt.
type Finish struct {
	Score           float64
	Passed          bool
	DurationUsedSec int64
}

// FinishFunc computes the terminal fields from the attempt state frozen by
// the store's claim. It runs exactly once per attempt, on the winner's side
// of the submit race.
type FinishFunc func(a Attempt) Finish

// Store is the durable attempt record. Implementations guarantee:
//   - at most one in-progress attempt per (exam, learner): CreateAttempt
//     returns ErrDuplicateAttempt otherwise;
//   - FinishAttempt transitions submitted_at from null exactly once
//     (compare-and-set); losers get the persisted row and claimed=false;
//   - UpsertAnswer only writes while the attempt is open and returns
//     ErrAttemptClosed once it has been submitted.
type Store interface {
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ActiveAttempt(ctx context.Context, examID, userID string) (Attempt, error)
	UpsertAnswer(ctx context.Context, attemptID, questionID string, choiceID *string, now time.Time) error
	FinishAttempt(ctx context.Context, id string, submittedAt time.Time, auto bool, fn FinishFunc) (a Attempt, claimed bool, err error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	ExpiredInProgress(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type ExamListOpts struct {
	Q      string // substring match on the title
	Limit  int
	Offset int
}

// ExamSource is the question bank the lifecycle controller snapshots from.
// PutExam exists so the bank can be populated; question authoring beyond that
// is out of scope. ListExams serves catalogs and never returns question bodies.
type ExamSource interface {
	GetExamSnapshot(ctx context.Context, examID string) (Exam, error)
	PutExam(ctx context.Context, e Exam) error
	ListExams(ctx context.Context, opts ExamListOpts) ([]ExamSummary, error)
}
