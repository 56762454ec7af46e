package exam

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certhub/certhub-platform/internal/audit"
	"github.com/certhub/certhub-platform/internal/clock"
)

// Eligibility is the training-completion collaborator consulted before an
// attempt may start. Pure read.
type Eligibility interface {
	IncompleteTrainingCount(ctx context.Context, userID string) (int, error)
}

type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimeout Trigger = "timeout"
)

// Service owns the attempt state machine: start, answer recording, lazy
// expiry, and the at-most-once submit transition. Every time decision uses
// the injected clock; client time is never read.
type Service struct {
	store   Store
	exams   ExamSource
	elig    Eligibility
	scorer  Scorer
	clk     clock.Clock
	shuffle bool
	audit   audit.Log
}

func NewService(store Store, exams ExamSource, elig Eligibility, scorer Scorer, clk clock.Clock, shuffle bool) *Service {
	return &Service{
		store:   store,
		exams:   exams,
		elig:    elig,
		scorer:  scorer,
		clk:     clk,
		shuffle: shuffle,
		audit:   audit.NopLog{},
	}
}

// SetAuditLog routes lifecycle events to l. Audit writes are best effort and
// never fail the attempt flow.
func (s *Service) SetAuditLog(l audit.Log) { s.audit = l }

// Start is idempotent per (exam, learner): a live in-progress attempt is
// returned instead of a duplicate. An expired leftover attempt is settled
// first, then a fresh one is created if the eligibility gate allows.
func (s *Service) Start(ctx context.Context, userID, examID string) (StartResult, error) {
	now := s.clk.Now()

	if a, err := s.store.ActiveAttempt(ctx, examID, userID); err == nil {
		if !a.ExpiredAt(now) {
			return startResult(a, now, true), nil
		}
		if _, err := s.Submit(ctx, a.ID, TriggerTimeout); err != nil {
			return StartResult{}, err
		}
	} else if !errors.Is(err, ErrAttemptNotFound) {
		return StartResult{}, err
	}

	incomplete, err := s.elig.IncompleteTrainingCount(ctx, userID)
	if err != nil {
		return StartResult{}, err
	}
	if incomplete > 0 {
		return StartResult{}, &NotEligibleError{Incomplete: incomplete}
	}

	e, err := s.exams.GetExamSnapshot(ctx, examID)
	if err != nil {
		return StartResult{}, err
	}

	questions := copyQuestions(e.Questions)
	if s.shuffle {
		questions = shuffleQuestions(e.Questions)
	}

	a := Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		UserID:    userID,
		StartedAt: now,
		Deadline:  now.Add(time.Duration(e.DurationMin) * time.Minute),
		Snapshot:  Snapshot{Questions: questions, PassThreshold: e.PassThreshold},
		Answers:   map[string]Answer{},
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			// Lost a concurrent start race; hand back the winner's attempt.
			existing, err := s.store.ActiveAttempt(ctx, examID, userID)
			if err != nil {
				return StartResult{}, err
			}
			return startResult(existing, now, true), nil
		}
		return StartResult{}, err
	}
	s.record(ctx, a, audit.EventStarted, nil)
	return startResult(a, now, false), nil
}

// View returns the attempt as the client renders it. A passed deadline on an
// in-progress attempt triggers auto-submission here, before the view is
// built, so no response ever shows an expired attempt as in progress.
func (s *Service) View(ctx context.Context, attemptID string) (View, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return View{}, err
	}
	if !a.Completed() && a.ExpiredAt(s.clk.Now()) {
		if a, err = s.autoSubmit(ctx, attemptID); err != nil {
			return View{}, err
		}
	}

	v := View{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		UserID:     a.UserID,
		Status:     a.Status(),
		Questions:  make([]ViewQuestion, 0, len(a.Snapshot.Questions)),
		Answers:    make(map[string]*string, len(a.Answers)),
		StartedAt:  a.StartedAt,
		Deadline:   a.Deadline,
		ServerTime: s.clk.Now(),
	}
	for _, q := range a.Snapshot.Questions {
		vq := ViewQuestion{ID: q.ID, Order: q.Order, Text: q.Text, Choices: make([]ViewChoice, 0, len(q.Choices))}
		for _, c := range q.Choices {
			vq.Choices = append(vq.Choices, ViewChoice{ID: c.ID, Text: c.Text, ImageRef: c.ImageRef})
		}
		v.Questions = append(v.Questions, vq)
	}
	for qid, ans := range a.Answers {
		v.Answers[qid] = ans.ChoiceID
	}
	if a.Completed() {
		r := resultOf(a)
		v.Result = &r
	}
	return v, nil
}

// RecordAnswer upserts the learner's choice for one snapshot question. A nil
// choice clears the answer. The choice must belong to the stated question;
// accepting a cross-question choice would corrupt scoring undetected.
func (s *Service) RecordAnswer(ctx context.Context, attemptID, questionID string, choiceID *string) error {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.Completed() {
		return ErrAttemptClosed
	}
	now := s.clk.Now()
	if a.ExpiredAt(now) {
		if _, err := s.autoSubmit(ctx, attemptID); err != nil {
			return err
		}
		return ErrAttemptClosed
	}

	var question *Question
	for i := range a.Snapshot.Questions {
		if a.Snapshot.Questions[i].ID == questionID {
			question = &a.Snapshot.Questions[i]
			break
		}
	}
	if question == nil {
		return ErrQuestionNotInExam
	}
	if choiceID != nil {
		found := false
		for _, c := range question.Choices {
			if c.ID == *choiceID {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidChoice
		}
	}
	return s.store.UpsertAnswer(ctx, attemptID, questionID, choiceID, now)
}

// Submit moves an attempt to completed. The store's compare-and-set decides a
// single winner under concurrent manual and timeout submits; the scorer runs
// only on the winner's side, and every caller gets the persisted result.
func (s *Service) Submit(ctx context.Context, attemptID string, trigger Trigger) (Result, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if a.Completed() {
		return resultOf(a), nil
	}

	now := s.clk.Now()
	auto := trigger == TriggerTimeout
	submittedAt := now
	if a.ExpiredAt(now) {
		// Past the deadline every submission is an expiry submission,
		// stamped at the deadline so duration used never exceeds the limit.
		auto = true
		submittedAt = a.Deadline
	}

	final, claimed, err := s.store.FinishAttempt(ctx, attemptID, submittedAt, auto, func(cur Attempt) Finish {
		score, passed := s.scorer.Score(cur.Snapshot, cur.Answers)
		return Finish{
			Score:           score,
			Passed:          passed,
			DurationUsedSec: int64(submittedAt.Sub(cur.StartedAt).Seconds()),
		}
	})
	if err != nil {
		return Result{}, err
	}
	if claimed {
		s.record(ctx, final, audit.EventSubmitted, map[string]interface{}{
			"trigger": string(trigger),
			"auto":    final.AutoSubmitted != nil && *final.AutoSubmitted,
			"score":   final.Score,
		})
	}
	return resultOf(final), nil
}

func (s *Service) record(ctx context.Context, a Attempt, typ string, detail map[string]interface{}) {
	var blob string
	if detail != nil {
		b, err := json.Marshal(detail)
		if err == nil {
			blob = string(b)
		}
	}
	err := s.audit.Append(ctx, audit.Event{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		UserID:     a.UserID,
		Type:       typ,
		DetailJSON: blob,
		At:         s.clk.Now().Unix(),
	})
	if err != nil {
		log.Printf("audit append %s %s: %v", typ, a.ID, err)
	}
}

func (s *Service) autoSubmit(ctx context.Context, attemptID string) (Attempt, error) {
	if _, err := s.Submit(ctx, attemptID, TriggerTimeout); err != nil {
		return Attempt{}, err
	}
	return s.store.GetAttempt(ctx, attemptID)
}

// AttemptOwner returns the learner the attempt belongs to.
func (s *Service) AttemptOwner(ctx context.Context, attemptID string) (string, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", err
	}
	return a.UserID, nil
}

// ListAttempts exposes the store listing for dashboards and "my attempts".
func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

func startResult(a Attempt, now time.Time, reused bool) StartResult {
	return StartResult{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		Deadline:   a.Deadline,
		ServerTime: now,
		Reused:     reused,
	}
}

func resultOf(a Attempt) Result {
	r := Result{AttemptID: a.ID}
	if a.SubmittedAt != nil {
		r.SubmittedAt = *a.SubmittedAt
	}
	if a.Score != nil {
		r.Score = *a.Score
	}
	if a.Passed != nil {
		r.Passed = *a.Passed
	}
	if a.AutoSubmitted != nil {
		r.AutoSubmitted = *a.AutoSubmitted
	}
	if a.DurationUsedSec != nil {
		r.DurationUsedSec = *a.DurationUsedSec
	}
	return r
}
