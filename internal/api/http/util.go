package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/certhub/certhub-platform/internal/exam"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the exam package's error taxonomy to HTTP statuses. The
// eligibility denial carries its incomplete-training count into the body so
// the client can tell the learner what's left.
func writeError(w http.ResponseWriter, err error) {
	var ne *exam.NotEligibleError
	switch {
	case errors.As(err, &ne):
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":                "not_eligible",
			"incomplete_trainings": ne.Incomplete,
		})
	case errors.Is(err, exam.ErrExamNotFound), errors.Is(err, exam.ErrAttemptNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, exam.ErrAttemptClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "attempt_closed"})
	case errors.Is(err, exam.ErrInvalidChoice), errors.Is(err, exam.ErrQuestionNotInExam):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_choice"})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
