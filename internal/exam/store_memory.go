package exam

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore backs tests and single-process dev runs. The mutex gives the
// same atomicity the SQL store gets from its transactions.
type MemoryStore struct {
	mu       sync.Mutex
	exams    map[string]Exam
	attempts map[string]*Attempt
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:    map[string]Exam{},
		attempts: map[string]*Attempt{},
	}
}

var _ Store = (*MemoryStore)(nil)
var _ ExamSource = (*MemoryStore)(nil)

func (m *MemoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *MemoryStore) GetExamSnapshot(_ context.Context, id string) (Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	e.Questions = copyQuestions(e.Questions)
	return e, nil
}

func (m *MemoryStore) ListExams(_ context.Context, opts ExamListOpts) ([]ExamSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ExamSummary{}
	for _, e := range m.exams {
		if opts.Q != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, ExamSummary{
			ID: e.ID, ProjectID: e.ProjectID, Title: e.Title,
			DurationMin: e.DurationMin, CreatedAt: e.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []ExamSummary{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.attempts {
		if cur.ExamID == a.ExamID && cur.UserID == a.UserID && !cur.Completed() {
			return ErrDuplicateAttempt
		}
	}
	if a.Answers == nil {
		a.Answers = map[string]Answer{}
	}
	m.attempts[a.ID] = &a
	return nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (m *MemoryStore) ActiveAttempt(_ context.Context, examID, userID string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ExamID == examID && a.UserID == userID && !a.Completed() {
			return cloneAttempt(a), nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *MemoryStore) UpsertAnswer(_ context.Context, attemptID, questionID string, choiceID *string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Completed() {
		return ErrAttemptClosed
	}
	ans, exists := a.Answers[questionID]
	if !exists {
		ans = Answer{QuestionID: questionID, CreatedAt: now}
	}
	ans.ChoiceID = choiceID
	ans.UpdatedAt = now
	a.Answers[questionID] = ans
	return nil
}

func (m *MemoryStore) FinishAttempt(_ context.Context, id string, submittedAt time.Time, auto bool, fn FinishFunc) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false, ErrAttemptNotFound
	}
	if a.Completed() {
		return cloneAttempt(a), false, nil
	}
	fin := fn(cloneAttempt(a))
	a.SubmittedAt = &submittedAt
	a.AutoSubmitted = &auto
	a.Score = &fin.Score
	a.Passed = &fin.Passed
	a.DurationUsedSec = &fin.DurationUsedSec
	return cloneAttempt(a), true, nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && a.Status() != opts.Status {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Attempt{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpiredInProgress(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, a := range m.attempts {
		if !a.Completed() && a.ExpiredAt(now) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func cloneAttempt(a *Attempt) Attempt {
	out := *a
	out.Snapshot.Questions = copyQuestions(a.Snapshot.Questions)
	out.Answers = make(map[string]Answer, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	return out
}
