package http

import (
	"net/http"

	"github.com/certhub/certhub-platform/internal/exam"
)

// GET /exams?q=...&limit=50&offset=0
// Catalog view: titles and durations only, no question content.
func ListExamsHandler(bank exam.ExamSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := bank.ListExams(r.Context(), exam.ExamListOpts{
			Q:      r.URL.Query().Get("q"),
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
