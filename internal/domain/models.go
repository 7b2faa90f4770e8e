package domain

import (
	"fmt"
	"time"
)

// Assessment is a listed test as shown in the catalog. Immutable once
// listed; authoring happens outside this service.
type Assessment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Question is one multiple-choice question belonging to an assessment and a
// variant set. CorrectOption indexes into Options.
type Question struct {
	ID            string   `json:"id"`
	AssessmentID  string   `json:"assessmentId"`
	Set           string   `json:"set"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Points        int      `json:"points"` // defaults to 1 if zero
}

// PointValue returns the question's point value, treating zero as 1.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// AnswerMap maps question ID to the selected option index. Last write wins.
type AnswerMap map[string]int

// Clone returns an independent copy so a frozen submission cannot be mutated
// by later callers.
func (a AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Participant identifies who is taking an assessment. Passed explicitly into
// the resolver and the result store; there is no ambient current user.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Result is the immutable record of a completed attempt.
type Result struct {
	AssessmentID  string    `json:"assessmentId"`
	ParticipantID string    `json:"participantId"`
	Set           string    `json:"set"`
	Answers       AnswerMap `json:"answers"`
	Score         int       `json:"score"`
	MaxScore      int       `json:"maxScore"`
	TimeSpentSecs int       `json:"timeSpentSecs"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Percent reports the score as a percentage, zero when nothing was scoreable.
func (r Result) Percent() float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return float64(r.Score) / float64(r.MaxScore) * 100
}

// SessionState is the lifecycle state of one attempt.
type SessionState string

const (
	// StateBrowsing means no attempt is active; the catalog is shown.
	StateBrowsing SessionState = "BROWSING"
	// StateInProgress means the countdown is running and answers are mutable.
	StateInProgress SessionState = "IN_PROGRESS"
	// StateSubmitting means an explicit submission is in flight; answers frozen.
	StateSubmitting SessionState = "SUBMITTING"
	// StateExpired means the countdown forced submission; behaves like
	// SUBMITTING until persistence confirms.
	StateExpired SessionState = "EXPIRED"
	// StateCompleted means the result is persisted. Terminal.
	StateCompleted SessionState = "COMPLETED"
)

// QuestionView is a question as shown to the participant: no correct option.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Points  int      `json:"points"`
}

// SessionView is the read-only snapshot exposed by CurrentState.
type SessionView struct {
	AssessmentID  string          `json:"assessmentId"`
	Set           string          `json:"set"`
	SetDegraded   bool            `json:"setDegraded"`
	State         SessionState    `json:"state"`
	QuestionIndex int             `json:"questionIndex"`
	QuestionCount int             `json:"questionCount"`
	Question      *QuestionView   `json:"question,omitempty"`
	Answered      map[string]bool `json:"answered"`
	Remaining     int             `json:"remainingSecs"`
	Clock         string          `json:"clock"`
	Result        *Result         `json:"result,omitempty"`
}

// FormatClock renders whole seconds as M:SS.
func FormatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
