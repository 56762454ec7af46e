package exam

import "time"

type Choice struct {
	ID        string `json:"id"`
	Text      string `json:"text,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID      string   `json:"id"`
	Order   int      `json:"order"`
	Text    string   `json:"text"`
	Choices []Choice `json:"choices"`
}

type Exam struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	DurationMin int    `json:"duration_min"`
	// PassThreshold overrides the configured default when set. Percent, 0-100.
	PassThreshold *float64   `json:"pass_threshold,omitempty"`
	Questions     []Question `json:"questions"`
	CreatedAt     int64      `json:"created_at,omitempty"`
}

// ExamSummary is the catalog row for an exam: enough to pick one and start an
// attempt, with no question content attached.
type ExamSummary struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	DurationMin int    `json:"duration_min"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// Snapshot is the question set frozen into an attempt at start time, in the
// order (possibly shuffled) the attempt renders it. Scoring and rendering read
// only the snapshot, so editing an exam never changes in-flight or historical
// attempts.
type Snapshot struct {
	Questions     []Question `json:"questions"`
	PassThreshold *float64   `json:"pass_threshold,omitempty"`
}

type Answer struct {
	QuestionID string    `json:"question_id"`
	ChoiceID   *string   `json:"choice_id"` // nil = question skipped
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Attempt is one learner's timed run through an exam. SubmittedAt is set at
// most once; a completed attempt is immutable.
type Attempt struct {
	ID              string            `json:"id"`
	ExamID          string            `json:"exam_id"`
	UserID          string            `json:"user_id"`
	StartedAt       time.Time         `json:"started_at"`
	Deadline        time.Time         `json:"deadline"`
	Snapshot        Snapshot          `json:"-"`
	Answers         map[string]Answer `json:"-"`
	SubmittedAt     *time.Time        `json:"submitted_at,omitempty"`
	DurationUsedSec *int64            `json:"duration_used_sec,omitempty"`
	Score           *float64          `json:"score,omitempty"`
	Passed          *bool             `json:"is_passed,omitempty"`
	AutoSubmitted   *bool             `json:"auto_submitted,omitempty"`
}

func (a *Attempt) Completed() bool { return a.SubmittedAt != nil }

func (a *Attempt) ExpiredAt(now time.Time) bool { return now.After(a.Deadline) }

func (a *Attempt) Status() string {
	if a.Completed() {
		return StatusCompleted
	}
	return StatusInProgress
}

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Result is the terminal payload of a submit. AutoSubmitted distinguishes a
// deadline-triggered submission from a manual one.
type Result struct {
	AttemptID       string    `json:"attempt_id"`
	Score           float64   `json:"score"`
	Passed          bool      `json:"is_passed"`
	AutoSubmitted   bool      `json:"auto_submitted"`
	SubmittedAt     time.Time `json:"submitted_at"`
	DurationUsedSec int64     `json:"duration_used_sec"`
}

// StartResult is returned by Start. Reused is true when an in-progress
// attempt already existed for the (exam, learner) pair.
type StartResult struct {
	AttemptID  string    `json:"attempt_id"`
	ExamID     string    `json:"exam_id"`
	Deadline   time.Time `json:"deadline"`
	ServerTime time.Time `json:"server_time"`
	Reused     bool      `json:"reused"`
}

// ViewChoice and ViewQuestion mirror the snapshot with correctness flags
// stripped, so a view payload can never leak the answer key.
type ViewChoice struct {
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

type ViewQuestion struct {
	ID      string       `json:"id"`
	Order   int          `json:"order"`
	Text    string       `json:"text"`
	Choices []ViewChoice `json:"choices"`
}

// View is everything a client needs to render an attempt. ServerTime lets the
// client derive remaining time without trusting its own wall clock; the
// server still re-validates the deadline on every mutating call.
type View struct {
	AttemptID  string             `json:"attempt_id"`
	ExamID     string             `json:"exam_id"`
	UserID     string             `json:"user_id"`
	Status     string             `json:"status"`
	Questions  []ViewQuestion     `json:"questions"`
	Answers    map[string]*string `json:"answers"` // questionID -> choiceID
	StartedAt  time.Time          `json:"started_at"`
	Deadline   time.Time          `json:"deadline"`
	ServerTime time.Time          `json:"server_time"`
	Result     *Result            `json:"result,omitempty"`
}
