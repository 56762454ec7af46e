package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/certhub/certhub-platform/internal/auth/middleware"
	"github.com/certhub/certhub-platform/internal/exam"
	"github.com/certhub/certhub-platform/internal/rbac"
)

// POST /exams/{examID}/attempts
// The learner comes from the JWT subject, never from the body.
func StartAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		sub := auth.SubjectFromContext(r.Context())
		if sub == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		res, err := svc.Start(r.Context(), sub, examID)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusCreated
		if res.Reused {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
	}
}

// GET /attempts/{attemptID}
// Serving the view runs lazy expiry: a passed deadline auto-submits before
// the response is built.
func GetAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		v, err := svc.View(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		if v.UserID != auth.SubjectFromContext(r.Context()) && !rbac.Has(role, "attempt:view-all") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}  { "choice_id": "c2" }
// A null choice_id clears the answer; repeating the same choice is a no-op.
func RecordAnswerHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		questionID := chi.URLParam(r, "questionID")
		var req struct {
			ChoiceID *string `json:"choice_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := requireOwn(r, svc, attemptID); err != nil {
			writeError(w, err)
			return
		}
		if err := svc.RecordAnswer(r.Context(), attemptID, questionID, req.ChoiceID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := requireOwn(r, svc, id); err != nil {
			writeError(w, err)
			return
		}
		res, err := svc.Submit(r.Context(), id, exam.TriggerManual)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /attempts?exam_id=...&user_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all are scoped to their own attempts.
func ListAttemptsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		sub := auth.SubjectFromContext(r.Context())

		userID := r.URL.Query().Get("user_id")
		if !rbac.Has(role, "attempt:view-all") {
			userID = sub
		}
		list, err := svc.ListAttempts(r.Context(), exam.AttemptListOpts{
			ExamID: r.URL.Query().Get("exam_id"),
			UserID: userID,
			Status: r.URL.Query().Get("status"),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// requireOwn rejects mutations on attempts the caller does not own.
// attempt:view-all is read-only; acting on someone else's attempt needs
// attempt:manage.
func requireOwn(r *http.Request, svc *exam.Service, attemptID string) error {
	role := rbac.RoleFromContext(r.Context())
	if rbac.Has(role, "attempt:manage") {
		return nil
	}
	owner, err := svc.AttemptOwner(r.Context(), attemptID)
	if err != nil {
		return err
	}
	if owner != auth.SubjectFromContext(r.Context()) {
		return exam.ErrAttemptNotFound
	}
	return nil
}
