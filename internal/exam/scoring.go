package exam

// DefaultPassThreshold applies when neither the exam nor the environment
// configures one. Percent.
const DefaultPassThreshold = 70.0

// Scorer computes a percentage score and pass/fail verdict for a finished
// attempt against its snapshot. Pure; no I/O, no clock.
type Scorer struct {
	defaultThreshold float64
}

func NewScorer(threshold float64) Scorer {
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}
	return Scorer{defaultThreshold: threshold}
}

// Score counts a question as correct only when its recorded choice carries the
// correctness flag; skipped and unanswered questions count as incorrect.
// Passing uses >= against the snapshot threshold (exam-level override) or the
// configured default.
func (s Scorer) Score(snap Snapshot, answers map[string]Answer) (score float64, passed bool) {
	total := len(snap.Questions)
	correct := 0
	for _, q := range snap.Questions {
		ans, ok := answers[q.ID]
		if !ok || ans.ChoiceID == nil {
			continue
		}
		for _, c := range q.Choices {
			if c.ID == *ans.ChoiceID {
				if c.IsCorrect {
					correct++
				}
				break
			}
		}
	}
	if total > 0 {
		score = 100 * float64(correct) / float64(total)
	}
	return score, score >= s.Threshold(snap)
}

func (s Scorer) Threshold(snap Snapshot) float64 {
	if snap.PassThreshold != nil {
		return *snap.PassThreshold
	}
	return s.defaultThreshold
}
