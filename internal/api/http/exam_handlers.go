package http

import (
	"encoding/json"
	"net/http"

	"github.com/certhub/certhub-platform/internal/exam"
)

// PUT /exams — publish an exam definition into the question bank. Editing a
// published exam never touches existing attempts; they keep scoring against
// the snapshot captured when they started.
func PutExamHandler(bank exam.ExamSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e exam.Exam
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if e.ID == "" || e.DurationMin <= 0 || len(e.Questions) == 0 {
			http.Error(w, "id, duration_min and questions required", http.StatusBadRequest)
			return
		}
		if err := bank.PutExam(r.Context(), e); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": e.ID})
	}
}
