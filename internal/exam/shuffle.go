package exam

import "math/rand"

// shuffleQuestions returns a deep copy of qs with question order and each
// question's choice order randomized. The shuffled copy is persisted in the
// attempt snapshot, so every reload of the same attempt renders identically.
// Uses the top-level rand source, which is safe for concurrent starts.
func shuffleQuestions(qs []Question) []Question {
	out := copyQuestions(qs)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	for i := range out {
		cs := out[i].Choices
		rand.Shuffle(len(cs), func(a, b int) { cs[a], cs[b] = cs[b], cs[a] })
		out[i].Order = i + 1
	}
	return out
}

func copyQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q
		out[i].Choices = append([]Choice(nil), q.Choices...)
	}
	return out
}
