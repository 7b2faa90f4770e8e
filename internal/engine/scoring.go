package engine

import "exam-session-service/internal/domain"

// ScoreBreakdown is the outcome of scoring one answer map against one
// question snapshot.
type ScoreBreakdown struct {
	Achieved int
	Maximum  int
	// Correct has an entry for every question in the snapshot; unanswered
	// questions are present and false.
	Correct map[string]bool
}

// Score grades an answer map against a question snapshot. It is total: a
// missing entry, an out-of-range selection, or an empty snapshot all yield a
// valid breakdown, never an error. The result is independent of question
// order.
func Score(questions []domain.Question, answers domain.AnswerMap) ScoreBreakdown {
	breakdown := ScoreBreakdown{Correct: make(map[string]bool, len(questions))}
	for _, q := range questions {
		points := q.PointValue()
		breakdown.Maximum += points

		selected, ok := answers[q.ID]
		correct := ok && selected >= 0 && selected < len(q.Options) && selected == q.CorrectOption
		breakdown.Correct[q.ID] = correct
		if correct {
			breakdown.Achieved += points
		}
	}
	return breakdown
}
