package engine

import "exam-session-service/internal/domain"

// submissionGuard enforces at-most-one persisted result per attempt. All
// methods are called with the owning session's lock held.
//
// inFlight means a persistence attempt is outstanding; no second attempt may
// start until it confirms or fails. committed means a result was persisted;
// the flag is only set on confirmed writes, so a failed persist leaves a
// retry permitted.
type submissionGuard struct {
	inFlight  bool
	committed bool
}

func (g *submissionGuard) begin() error {
	if g.committed {
		return domain.ErrInvalidTransition
	}
	if g.inFlight {
		return domain.ErrSubmissionInFlight
	}
	g.inFlight = true
	return nil
}

func (g *submissionGuard) succeed() {
	g.inFlight = false
	g.committed = true
}

func (g *submissionGuard) fail() {
	g.inFlight = false
}
