package exam_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite" // driver for "sqlite"

	"github.com/certhub/certhub-platform/internal/db"
	"github.com/certhub/certhub-platform/internal/exam"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	dbh, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	if err := db.EnsureSchema(context.Background(), dbh, db.DriverSQLite); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return dbh
}

func seedSQLStore(t *testing.T) (*exam.SQLStore, exam.Attempt) {
	t.Helper()
	store := exam.NewSQLStore(openTestDB(t), "sqlite")
	ctx := context.Background()

	err := store.PutExam(ctx, exam.Exam{
		ID: "cert-1", ProjectID: "proj-1", Title: "Certification", DurationMin: 30,
		Questions: []exam.Question{
			{ID: "q1", Order: 1, Text: "?", Choices: []exam.Choice{{ID: "c1", IsCorrect: true}, {ID: "c2"}}},
		},
	})
	if err != nil {
		t.Fatalf("put exam: %v", err)
	}

	started := time.Unix(1700000000, 0)
	a := exam.Attempt{
		ID:        "att-1",
		ExamID:    "cert-1",
		UserID:    "u1",
		StartedAt: started,
		Deadline:  started.Add(30 * time.Minute),
		Snapshot: exam.Snapshot{Questions: []exam.Question{
			{ID: "q1", Order: 1, Text: "?", Choices: []exam.Choice{{ID: "c1", IsCorrect: true}, {ID: "c2"}}},
		}},
	}
	if err := store.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	return store, a
}

func TestSQLStoreActiveAttemptUnique(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()

	dup := a
	dup.ID = "att-2"
	if err := store.CreateAttempt(ctx, dup); !errors.Is(err, exam.ErrDuplicateAttempt) {
		t.Fatalf("second open attempt: got %v, want ErrDuplicateAttempt", err)
	}

	// after the first attempt is finished a new one is allowed
	_, claimed, err := store.FinishAttempt(ctx, a.ID, a.StartedAt.Add(time.Minute), false, func(exam.Attempt) exam.Finish {
		return exam.Finish{Score: 100, Passed: true, DurationUsedSec: 60}
	})
	if err != nil || !claimed {
		t.Fatalf("finish: claimed=%v err=%v", claimed, err)
	}
	if err := store.CreateAttempt(ctx, dup); err != nil {
		t.Fatalf("new attempt after finish: %v", err)
	}
}

func TestSQLStoreAnswerUpsertKeepsOneRow(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()
	now := a.StartedAt.Add(10 * time.Second)

	if err := store.UpsertAnswer(ctx, a.ID, "q1", strptr("c2"), now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertAnswer(ctx, a.ID, "q1", strptr("c1"), now.Add(time.Second)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 1 {
		t.Fatalf("answer rows = %d, want 1", len(got.Answers))
	}
	ans := got.Answers["q1"]
	if ans.ChoiceID == nil || *ans.ChoiceID != "c1" {
		t.Fatalf("choice = %v, want c1 (last write wins)", ans.ChoiceID)
	}
	if !ans.UpdatedAt.After(ans.CreatedAt) {
		t.Fatalf("overwrite must bump updated_at")
	}
}

func TestSQLStoreUpsertAnswerRejectsClosedAttempt(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()

	_, claimed, err := store.FinishAttempt(ctx, a.ID, a.StartedAt.Add(time.Minute), false, func(exam.Attempt) exam.Finish {
		return exam.Finish{Score: 100, Passed: true, DurationUsedSec: 60}
	})
	if err != nil || !claimed {
		t.Fatalf("finish: claimed=%v err=%v", claimed, err)
	}

	err = store.UpsertAnswer(ctx, a.ID, "q1", strptr("c1"), a.StartedAt.Add(2*time.Minute))
	if !errors.Is(err, exam.ErrAttemptClosed) {
		t.Fatalf("upsert on completed attempt: got %v, want ErrAttemptClosed", err)
	}
	got, err := store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 0 {
		t.Fatalf("completed attempt gained answers: %+v", got.Answers)
	}

	err = store.UpsertAnswer(ctx, "ghost", "q1", strptr("c1"), a.StartedAt)
	if !errors.Is(err, exam.ErrAttemptNotFound) {
		t.Fatalf("upsert on missing attempt: got %v, want ErrAttemptNotFound", err)
	}
}

func TestSQLStoreFinishClaimsOnce(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()
	submittedAt := a.StartedAt.Add(5 * time.Minute)

	computations := 0
	fin := func(exam.Attempt) exam.Finish {
		computations++
		return exam.Finish{Score: 100, Passed: true, DurationUsedSec: 300}
	}

	first, claimed, err := store.FinishAttempt(ctx, a.ID, submittedAt, false, fin)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !claimed {
		t.Fatalf("first finish must claim the transition")
	}
	if first.Score == nil || *first.Score != 100 {
		t.Fatalf("score not persisted: %+v", first)
	}

	second, claimed, err := store.FinishAttempt(ctx, a.ID, submittedAt.Add(time.Minute), true, fin)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if claimed {
		t.Fatalf("second finish must lose the claim")
	}
	if computations != 1 {
		t.Fatalf("scoring ran %d times, want 1", computations)
	}
	if second.SubmittedAt == nil || !second.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("loser must observe the winner's submitted_at, got %v", second.SubmittedAt)
	}
	if second.AutoSubmitted == nil || *second.AutoSubmitted {
		t.Fatalf("loser must observe the winner's trigger")
	}
}

func TestSQLStoreExpiredInProgress(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()

	ids, err := store.ExpiredInProgress(ctx, a.Deadline.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Fatalf("expired ids = %v, want [%s]", ids, a.ID)
	}

	ids, err = store.ExpiredInProgress(ctx, a.StartedAt, 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("nothing should be expired before the deadline, got %v", ids)
	}
}

func TestSQLStoreListExams(t *testing.T) {
	store, _ := seedSQLStore(t)
	ctx := context.Background()

	list, err := store.ListExams(ctx, exam.ExamListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "cert-1" {
		t.Fatalf("list = %+v, want the seeded exam", list)
	}
	if list[0].DurationMin != 30 {
		t.Fatalf("duration = %d, want 30", list[0].DurationMin)
	}

	list, err = store.ListExams(ctx, exam.ExamListOpts{Q: "certif"})
	if err != nil || len(list) != 1 {
		t.Fatalf("title search: %+v err %v", list, err)
	}
	list, err = store.ListExams(ctx, exam.ExamListOpts{Q: "nope"})
	if err != nil || len(list) != 0 {
		t.Fatalf("miss search: %+v err %v", list, err)
	}
}

func TestSQLStoreListAttempts(t *testing.T) {
	store, a := seedSQLStore(t)
	ctx := context.Background()

	list, err := store.ListAttempts(ctx, exam.AttemptListOpts{UserID: "u1", Status: exam.StatusInProgress})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("list = %+v, want the open attempt", list)
	}

	list, err = store.ListAttempts(ctx, exam.AttemptListOpts{Status: exam.StatusCompleted})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("no attempt is completed yet, got %+v", list)
	}
}
