package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	api "github.com/certhub/certhub-platform/internal/api/http"
	auth "github.com/certhub/certhub-platform/internal/auth/middleware"
	"github.com/certhub/certhub-platform/internal/clock"
	"github.com/certhub/certhub-platform/internal/exam"
	"github.com/certhub/certhub-platform/internal/rbac"
	"github.com/certhub/certhub-platform/internal/training"
)

// asUser stands in for the JWT middleware, stamping the request context the
// same way it does.
func asUser(sub, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithSubject(r.Context(), sub)
			ctx = rbac.WithRole(ctx, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func testService(t *testing.T, incomplete map[string]int) (*exam.Service, *clock.Fake) {
	t.Helper()
	store := exam.NewInMemoryStore()
	clk := &clock.Fake{Current: time.Unix(1700000000, 0)}
	svc := exam.NewService(store, store, &training.MemoryCompletions{Counts: incomplete}, exam.NewScorer(70), clk, false)

	err := store.PutExam(context.Background(), exam.Exam{
		ID: "cert-1", ProjectID: "proj-1", Title: "Certification", DurationMin: 30,
		Questions: []exam.Question{
			{ID: "q1", Order: 1, Text: "pick one", Choices: []exam.Choice{
				{ID: "c1", Text: "right", IsCorrect: true},
				{ID: "c2", Text: "wrong"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	return svc, clk
}

func routerFor(svc *exam.Service, clk *clock.Fake, sub, role string) chi.Router {
	r := chi.NewRouter()
	r.Use(asUser(sub, role))
	r.Get("/time", api.ServerTimeHandler(clk))
	r.Post("/exams/{examID}/attempts", api.StartAttemptHandler(svc))
	r.Get("/attempts", api.ListAttemptsHandler(svc))
	r.Get("/attempts/{attemptID}", api.GetAttemptHandler(svc))
	r.Put("/attempts/{attemptID}/answers/{questionID}", api.RecordAnswerHandler(svc))
	r.Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(svc))
	return r
}

func testRouter(t *testing.T, incomplete map[string]int, sub, role string) (chi.Router, *clock.Fake) {
	t.Helper()
	svc, clk := testService(t, incomplete)
	return routerFor(svc, clk, sub, role), clk
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	fields := map[string]json.RawMessage{}
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
			t.Fatalf("%s %s: bad json body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, fields
}

func strField(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return s
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	r, _ := testRouter(t, nil, "u1", "student")

	rec, fields := doJSON(t, r, http.MethodPost, "/exams/cert-1/attempts", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	attemptID := strField(t, fields, "attempt_id")
	if attemptID == "" {
		t.Fatalf("start body missing attempt_id: %s", rec.Body.String())
	}
	if _, ok := fields["server_time"]; !ok {
		t.Fatalf("start body missing server_time: %s", rec.Body.String())
	}

	// starting again hands back the same attempt with 200
	rec, fields = doJSON(t, r, http.MethodPost, "/exams/cert-1/attempts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart: status %d", rec.Code)
	}
	if got := strField(t, fields, "attempt_id"); got != attemptID {
		t.Fatalf("restart returned %s, want %s", got, attemptID)
	}

	rec, _ = doJSON(t, r, http.MethodPut, fmt.Sprintf("/attempts/%s/answers/q1", attemptID), map[string]interface{}{"choice_id": "c1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer: status %d body %s", rec.Code, rec.Body.String())
	}

	rec, fields = doJSON(t, r, http.MethodGet, "/attempts/"+attemptID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view: status %d", rec.Code)
	}
	if got := strField(t, fields, "status"); got != "in_progress" {
		t.Fatalf("view status = %s, want in_progress", got)
	}
	if _, ok := fields["server_time"]; !ok {
		t.Fatalf("view body missing server_time")
	}
	// correctness must not leak to the client
	if bytes.Contains(rec.Body.Bytes(), []byte("is_correct")) {
		t.Fatalf("view leaks answer key: %s", rec.Body.String())
	}

	rec, fields = doJSON(t, r, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status %d body %s", rec.Code, rec.Body.String())
	}
	var score float64
	if err := json.Unmarshal(fields["score"], &score); err != nil || score != 100 {
		t.Fatalf("score = %v (err %v), want 100", score, err)
	}

	// resubmission replays the stored result
	rec2, fields2 := doJSON(t, r, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), nil)
	if rec2.Code != http.StatusOK || !bytes.Equal(fields2["submitted_at"], fields["submitted_at"]) {
		t.Fatalf("resubmit: status %d submitted_at %s vs %s", rec2.Code, fields2["submitted_at"], fields["submitted_at"])
	}

	// the closed attempt rejects further answers with 409
	rec, fields = doJSON(t, r, http.MethodPut, fmt.Sprintf("/attempts/%s/answers/q1", attemptID), map[string]interface{}{"choice_id": "c2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("answer after submit: status %d, want 409", rec.Code)
	}
	if got := strField(t, fields, "error"); got != "attempt_closed" {
		t.Fatalf("error = %s, want attempt_closed", got)
	}
}

func TestStartDeniedWithIncompleteTrainings(t *testing.T) {
	r, _ := testRouter(t, map[string]int{"u1": 2}, "u1", "student")

	rec, fields := doJSON(t, r, http.MethodPost, "/exams/cert-1/attempts", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	var n int
	if err := json.Unmarshal(fields["incomplete_trainings"], &n); err != nil || n != 2 {
		t.Fatalf("incomplete_trainings = %v (err %v), want 2", n, err)
	}
	if got := strField(t, fields, "error"); got != "not_eligible" {
		t.Fatalf("error = %s, want not_eligible", got)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	r, _ := testRouter(t, nil, "u1", "student")

	rec, _ := doJSON(t, r, http.MethodPost, "/exams/missing/attempts", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown exam: status %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/attempts/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown attempt: status %d, want 404", rec.Code)
	}

	_, fields := doJSON(t, r, http.MethodPost, "/exams/cert-1/attempts", nil)
	attemptID := strField(t, fields, "attempt_id")

	rec, _ = doJSON(t, r, http.MethodPut, fmt.Sprintf("/attempts/%s/answers/q1", attemptID), map[string]interface{}{"choice_id": "zzz"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus choice: status %d, want 422", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPut, fmt.Sprintf("/attempts/%s/answers/ghost", attemptID), map[string]interface{}{"choice_id": "c1"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown question: status %d, want 422", rec.Code)
	}
}

func TestExpiredAttemptReadsBackCompleted(t *testing.T) {
	r, clk := testRouter(t, nil, "u1", "student")

	_, fields := doJSON(t, r, http.MethodPost, "/exams/cert-1/attempts", nil)
	attemptID := strField(t, fields, "attempt_id")

	clk.Advance(31 * time.Minute)

	rec, fields := doJSON(t, r, http.MethodGet, "/attempts/"+attemptID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view: status %d", rec.Code)
	}
	if got := strField(t, fields, "status"); got != "completed" {
		t.Fatalf("status = %s, want completed after deadline", got)
	}
	var res struct {
		AutoSubmitted bool `json:"auto_submitted"`
	}
	if err := json.Unmarshal(fields["result"], &res); err != nil || !res.AutoSubmitted {
		t.Fatalf("result = %s (err %v), want auto_submitted=true", fields["result"], err)
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	svc, clk := testService(t, nil)
	owner := routerFor(svc, clk, "u1", "student")
	_, fields := doJSON(t, owner, http.MethodPost, "/exams/cert-1/attempts", nil)
	attemptID := strField(t, fields, "attempt_id")

	// an unrelated student sees 404, not 403, so attempt IDs are not probeable
	stranger := routerFor(svc, clk, "u2", "student")

	rec, _ := doJSON(t, stranger, http.MethodGet, "/attempts/"+attemptID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger view: status %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, stranger, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger submit: status %d, want 404", rec.Code)
	}
}

func TestViewAllDoesNotGrantMutation(t *testing.T) {
	svc, clk := testService(t, nil)
	student := routerFor(svc, clk, "u1", "student")
	_, fields := doJSON(t, student, http.MethodPost, "/exams/cert-1/attempts", nil)
	attemptID := strField(t, fields, "attempt_id")

	// a trainer may read any attempt but not act on it
	trainer := routerFor(svc, clk, "t1", "trainer")
	rec, _ := doJSON(t, trainer, http.MethodGet, "/attempts/"+attemptID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trainer view: status %d, want 200", rec.Code)
	}
	rec, _ = doJSON(t, trainer, http.MethodPut, fmt.Sprintf("/attempts/%s/answers/q1", attemptID), map[string]interface{}{"choice_id": "c1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trainer answer: status %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, trainer, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trainer submit: status %d, want 404", rec.Code)
	}

	// the admin wildcard carries attempt:manage
	admin := routerFor(svc, clk, "a1", "admin")
	rec, _ = doJSON(t, admin, http.MethodPost, fmt.Sprintf("/attempts/%s/submit", attemptID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin submit: status %d, want 200", rec.Code)
	}
}

func TestServerTimeEndpoint(t *testing.T) {
	r, clk := testRouter(t, nil, "u1", "student")

	rec, fields := doJSON(t, r, http.MethodGet, "/time", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	got, err := time.Parse(time.RFC3339Nano, strField(t, fields, "server_time"))
	if err != nil {
		t.Fatalf("server_time not RFC3339: %v", err)
	}
	if !got.Equal(clk.Current) {
		t.Fatalf("server_time = %v, want %v", got, clk.Current)
	}
}
