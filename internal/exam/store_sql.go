package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists attempts and the question bank on sqlite or postgres.
// The partial unique index attempts_one_active enforces the single
// in-progress attempt per (exam, learner); FinishAttempt claims the terminal
// transition with a conditional UPDATE inside a transaction.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

var _ Store = (*SQLStore)(nil)
var _ ExamSource = (*SQLStore)(nil)

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	var threshold sql.NullFloat64
	if e.PassThreshold != nil {
		threshold = sql.NullFloat64{Float64: *e.PassThreshold, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams (id,project_id,title,duration_min,pass_threshold,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET project_id=EXCLUDED.project_id, title=EXCLUDED.title,
			duration_min=EXCLUDED.duration_min, pass_threshold=EXCLUDED.pass_threshold,
			questions_json=EXCLUDED.questions_json`,
		e.ID, e.ProjectID, e.Title, e.DurationMin, threshold, string(qj), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}
	return nil
}

func (s *SQLStore) GetExamSnapshot(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,project_id,title,duration_min,pass_threshold,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	var e Exam
	var threshold sql.NullFloat64
	var qjson string
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Title, &e.DurationMin, &threshold, &qjson, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrExamNotFound
		}
		return Exam{}, fmt.Errorf("load exam: %w", err)
	}
	if threshold.Valid {
		e.PassThreshold = &threshold.Float64
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("decode questions: %w", err)
	}
	return e, nil
}

func (s *SQLStore) ListExams(ctx context.Context, opts ExamListOpts) ([]ExamSummary, error) {
	q := `SELECT id,project_id,title,duration_min,created_at FROM exams`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Q != "" {
		q += ` WHERE LOWER(title) LIKE ` + arg("%" + strings.ToLower(opts.Q) + "%")
	}
	q += " ORDER BY created_at DESC, id"
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " LIMIT " + arg(limit)
	if opts.Offset > 0 {
		q += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	out := []ExamSummary{}
	for rows.Next() {
		var e ExamSummary
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Title, &e.DurationMin, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	sj, err := json.Marshal(a.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (id,exam_id,user_id,started_at,deadline,snapshot_json)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.ExamID, a.UserID, a.StartedAt.Unix(), a.Deadline.Unix(), string(sj))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := s.scanAttempt(s.db.QueryRowContext(ctx, attemptSelect+` WHERE id=$1`, id))
	if err != nil {
		return Attempt{}, err
	}
	a.Answers, err = s.loadAnswers(ctx, s.db, id)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) ActiveAttempt(ctx context.Context, examID, userID string) (Attempt, error) {
	a, err := s.scanAttempt(s.db.QueryRowContext(ctx,
		attemptSelect+` WHERE exam_id=$1 AND user_id=$2 AND submitted_at IS NULL`, examID, userID))
	if err != nil {
		return Attempt{}, err
	}
	a.Answers, err = s.loadAnswers(ctx, s.db, a.ID)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// UpsertAnswer writes the choice only while the attempt is still open. The
// open check lives inside the INSERT ... SELECT so a submit landing between a
// service-level check and the write cannot mutate a completed attempt.
func (s *SQLStore) UpsertAnswer(ctx context.Context, attemptID, questionID string, choiceID *string, now time.Time) error {
	var choice sql.NullString
	if choiceID != nil {
		choice = sql.NullString{String: *choiceID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO answers (attempt_id,question_id,choice_id,created_at,updated_at)
		SELECT $1,$2,$3,$4,$4
		WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND submitted_at IS NULL)
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET
			choice_id=EXCLUDED.choice_id, updated_at=EXCLUDED.updated_at`,
		attemptID, questionID, choice, now.Unix())
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert answer rows: %w", err)
	}
	if n == 0 {
		var submitted sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT submitted_at FROM attempts WHERE id=$1`, attemptID).Scan(&submitted)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("check attempt state: %w", err)
		}
		return ErrAttemptClosed
	}
	return nil
}

// FinishAttempt claims the in-progress -> completed transition first (a
// conditional UPDATE on submitted_at IS NULL), then lets fn score the frozen
// state and persists the outcome in the same transaction. Losers of the race
// see zero claimed rows and read back the winner's result; fn never runs for
// them.
func (s *SQLStore) FinishAttempt(ctx context.Context, id string, submittedAt time.Time, auto bool, fn FinishFunc) (Attempt, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, false, fmt.Errorf("begin finish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE attempts SET submitted_at=$1, auto_submitted=$2
		WHERE id=$3 AND submitted_at IS NULL`, submittedAt.Unix(), auto, id)
	if err != nil {
		return Attempt{}, false, fmt.Errorf("claim submit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Attempt{}, false, fmt.Errorf("claim submit rows: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		a, err := s.GetAttempt(ctx, id)
		if err != nil {
			return Attempt{}, false, err
		}
		return a, false, nil
	}

	a, err := s.scanAttempt(tx.QueryRowContext(ctx, attemptSelect+` WHERE id=$1`, id))
	if err != nil {
		return Attempt{}, false, err
	}
	a.Answers, err = s.loadAnswers(ctx, tx, id)
	if err != nil {
		return Attempt{}, false, err
	}

	fin := fn(a)
	if _, err := tx.ExecContext(ctx, `UPDATE attempts SET score=$1, is_passed=$2, duration_used_sec=$3 WHERE id=$4`,
		fin.Score, fin.Passed, fin.DurationUsedSec, id); err != nil {
		return Attempt{}, false, fmt.Errorf("persist result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, false, fmt.Errorf("commit finish: %w", err)
	}

	a.Score = &fin.Score
	a.Passed = &fin.Passed
	a.DurationUsedSec = &fin.DurationUsedSec
	return a, true, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	q := attemptSelect
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.ExamID != "" {
		conds = append(conds, "exam_id="+arg(opts.ExamID))
	}
	if opts.UserID != "" {
		conds = append(conds, "user_id="+arg(opts.UserID))
	}
	switch opts.Status {
	case StatusInProgress:
		conds = append(conds, "submitted_at IS NULL")
	case StatusCompleted:
		conds = append(conds, "submitted_at IS NOT NULL")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " LIMIT " + arg(limit)
	if opts.Offset > 0 {
		q += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := []Attempt{}
	for rows.Next() {
		a, err := s.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ExpiredInProgress(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM attempts WHERE submitted_at IS NULL AND deadline < $1 LIMIT $2`,
		now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired attempts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const attemptSelect = `SELECT id,exam_id,user_id,started_at,deadline,snapshot_json,
	submitted_at,duration_used_sec,score,is_passed,auto_submitted FROM attempts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStore) scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a           Attempt
		started     int64
		deadline    int64
		sjson       string
		submittedAt sql.NullInt64
		usedSec     sql.NullInt64
		score       sql.NullFloat64
		passed      sql.NullBool
		auto        sql.NullBool
	)
	if err := row.Scan(&a.ID, &a.ExamID, &a.UserID, &started, &deadline, &sjson,
		&submittedAt, &usedSec, &score, &passed, &auto); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.StartedAt = time.Unix(started, 0)
	a.Deadline = time.Unix(deadline, 0)
	if err := json.Unmarshal([]byte(sjson), &a.Snapshot); err != nil {
		return Attempt{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0)
		a.SubmittedAt = &t
	}
	if usedSec.Valid {
		a.DurationUsedSec = &usedSec.Int64
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if passed.Valid {
		a.Passed = &passed.Bool
	}
	if auto.Valid {
		a.AutoSubmitted = &auto.Bool
	}
	return a, nil
}

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLStore) loadAnswers(ctx context.Context, q queryable, attemptID string) (map[string]Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT question_id,choice_id,created_at,updated_at FROM answers WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := map[string]Answer{}
	for rows.Next() {
		var (
			ans     Answer
			choice  sql.NullString
			created int64
			updated int64
		)
		if err := rows.Scan(&ans.QuestionID, &choice, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if choice.Valid {
			ans.ChoiceID = &choice.String
		}
		ans.CreatedAt = time.Unix(created, 0)
		ans.UpdatedAt = time.Unix(updated, 0)
		out[ans.QuestionID] = ans
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
