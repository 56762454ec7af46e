package exam

import (
	"errors"
	"fmt"
)

var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrAttemptClosed     = errors.New("attempt is closed")
	ErrQuestionNotInExam = errors.New("question not in exam")
	ErrInvalidChoice     = errors.New("choice does not belong to question")

	// ErrDuplicateAttempt is returned by stores when an in-progress attempt
	// already exists for the (exam, learner) pair.
	ErrDuplicateAttempt = errors.New("attempt already in progress")
)

// NotEligibleError denies an exam start while prerequisite trainings remain
// incomplete for the learner's project.
type NotEligibleError struct {
	Incomplete int
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("not eligible: %d incomplete trainings", e.Incomplete)
}
