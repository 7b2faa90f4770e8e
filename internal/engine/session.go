package engine

import (
	"sync"
	"time"

	"exam-session-service/internal/domain"
)

// Session is one participant's attempt at one assessment, from start to
// submission. It owns the question snapshot, the answer map, the cursor, the
// authoritative remaining-time counter, and the lifecycle state. A single
// mutex serializes participant actions and countdown ticks, so each event is
// processed to completion before the next.
type Session struct {
	mu sync.Mutex

	participant domain.Participant
	assessment  domain.Assessment
	set         string
	setDegraded bool

	questions []domain.Question // immutable snapshot, taken at start
	answers   domain.AnswerMap
	cursor    int

	duration  int // whole seconds
	remaining int

	state   domain.SessionState
	pending *domain.Result // computed once at freeze; reused across persist retries
	final   *domain.Result // persisted result, set exactly once

	guard submissionGuard
	timer *countdown

	// onExpire is invoked off the lock, on the tick that reaches zero.
	onExpire func(*Session)

	subscribers map[chan domain.SessionView]struct{}
}

func newSession(p domain.Participant, assessment domain.Assessment, set string, degraded bool, questions []domain.Question, durationSecs int) *Session {
	snapshot := make([]domain.Question, len(questions))
	copy(snapshot, questions)
	return &Session{
		participant: p,
		assessment:  assessment,
		set:         set,
		setDegraded: degraded,
		questions:   snapshot,
		answers:     make(domain.AnswerMap),
		duration:    durationSecs,
		remaining:   durationSecs,
		state:       domain.StateInProgress,
		subscribers: make(map[chan domain.SessionView]struct{}),
	}
}

// Participant returns the owner of this attempt.
func (s *Session) Participant() domain.Participant {
	return s.participant
}

// State reports the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a read-only snapshot of the session.
func (s *Session) View() domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Answer records the selected option for a question. Last write wins. The
// question must belong to the snapshot and the option must exist; answers
// are only mutable while the attempt is in progress.
func (s *Session) Answer(questionID string, option int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateInProgress {
		return s.viewLocked(), domain.ErrInvalidTransition
	}
	q, ok := s.findQuestionLocked(questionID)
	if !ok {
		return s.viewLocked(), domain.ErrQuestionNotFound
	}
	if option < 0 || option >= len(q.Options) {
		return s.viewLocked(), domain.ErrOptionOutOfRange
	}
	s.answers[questionID] = option
	return s.broadcastLocked(), nil
}

// Next advances the cursor, clamped at the last question.
func (s *Session) Next() (domain.SessionView, error) {
	return s.jumpRelative(1)
}

// Previous moves the cursor back, clamped at the first question.
func (s *Session) Previous() (domain.SessionView, error) {
	return s.jumpRelative(-1)
}

func (s *Session) jumpRelative(delta int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), domain.ErrInvalidTransition
	}
	s.cursor = clamp(s.cursor+delta, 0, len(s.questions)-1)
	return s.broadcastLocked(), nil
}

// JumpTo moves the cursor to an absolute index, clamped to the snapshot.
func (s *Session) JumpTo(index int) (domain.SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return s.viewLocked(), domain.ErrInvalidTransition
	}
	s.cursor = clamp(index, 0, len(s.questions)-1)
	return s.broadcastLocked(), nil
}

// Tick is invoked by the countdown once per second. It decrements the
// remaining time; reaching exactly zero freezes the attempt, stops the
// countdown, and fires the forced-submission hook. Ticks after zero, or in
// any state other than in-progress, are no-ops, so the counter never goes
// negative and only one forced submission can fire.
func (s *Session) Tick() {
	s.mu.Lock()
	if s.state != domain.StateInProgress || s.remaining <= 0 {
		s.mu.Unlock()
		return
	}
	s.remaining--
	if s.remaining > 0 {
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}

	s.freezeLocked(domain.StateExpired)
	s.broadcastLocked()
	fire := s.onExpire
	s.mu.Unlock()

	if fire != nil {
		fire(s)
	}
}

// BeginSubmit moves the attempt into the submitting phase on behalf of an
// explicit participant submission. The first trigger among explicit submit
// and timeout wins; calling this when the attempt is already frozen is a
// no-op so a retry can follow a failed persist. Completed attempts reject.
func (s *Session) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateInProgress:
		s.freezeLocked(domain.StateSubmitting)
		s.broadcastLocked()
		return nil
	case domain.StateSubmitting, domain.StateExpired:
		// Frozen already (timeout beat us, or a previous persist failed).
		return nil
	default:
		return domain.ErrInvalidTransition
	}
}

// freezeLocked stops the countdown, freezes the answer map, and computes the
// result exactly once. Scoring is not recomputed on persist retries.
func (s *Session) freezeLocked(next domain.SessionState) {
	s.state = next
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.pending == nil {
		breakdown := Score(s.questions, s.answers)
		s.pending = &domain.Result{
			AssessmentID:  s.assessment.ID,
			ParticipantID: s.participant.ID,
			Set:           s.set,
			Answers:       s.answers.Clone(),
			Score:         breakdown.Achieved,
			MaxScore:      breakdown.Maximum,
			TimeSpentSecs: s.duration - s.remaining,
		}
	}
}

// acquirePersist claims the submission guard and hands out the frozen result
// for persistence. Exactly one caller at a time may hold the claim.
func (s *Session) acquirePersist() (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return domain.Result{}, domain.ErrInvalidTransition
	}
	if err := s.guard.begin(); err != nil {
		return domain.Result{}, err
	}
	return *s.pending, nil
}

// persistSucceeded records the confirmed result and completes the attempt.
func (s *Session) persistSucceeded(saved domain.Result) domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard.succeed()
	s.final = &saved
	s.state = domain.StateCompleted
	return s.broadcastLocked()
}

// persistFailed releases the guard so the caller may retry; the attempt
// stays frozen and the computed result stays cached.
func (s *Session) persistFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard.fail()
	s.broadcastLocked()
}

// Abandon discards an in-progress attempt and stops its countdown. Frozen or
// completed attempts cannot be abandoned.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateInProgress {
		return domain.ErrInvalidTransition
	}
	s.state = domain.StateBrowsing
	if s.timer != nil {
		s.timer.Stop()
	}
	s.broadcastLocked()
	return nil
}

// Result returns the persisted result once the attempt is completed.
func (s *Session) Result() (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return domain.Result{}, false
	}
	return *s.final, true
}

// Subscribe returns a channel receiving view snapshots on every mutation and
// tick. The caller must invoke cancel to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.SessionView, func()) {
	ch := make(chan domain.SessionView, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.viewLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() domain.SessionView {
	view := s.viewLocked()
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			// Drop the stale snapshot so a slow reader never blocks a tick.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- view:
			default:
			}
		}
	}
	return view
}

func (s *Session) viewLocked() domain.SessionView {
	answered := make(map[string]bool, len(s.answers))
	for id := range s.answers {
		answered[id] = true
	}

	view := domain.SessionView{
		AssessmentID:  s.assessment.ID,
		Set:           s.set,
		SetDegraded:   s.setDegraded,
		State:         s.state,
		QuestionIndex: s.cursor,
		QuestionCount: len(s.questions),
		Answered:      answered,
		Remaining:     s.remaining,
		Clock:         domain.FormatClock(s.remaining),
	}
	// An empty snapshot is a valid session; the view simply carries no
	// current question.
	if len(s.questions) > 0 {
		q := s.questions[s.cursor]
		view.Question = &domain.QuestionView{
			ID:      q.ID,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
			Points:  q.PointValue(),
		}
	}
	if s.final != nil {
		result := *s.final
		view.Result = &result
	}
	return view
}

func (s *Session) findQuestionLocked(questionID string) (domain.Question, bool) {
	for _, q := range s.questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return domain.Question{}, false
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// startTimer attaches the real one-second countdown. Tests drive Tick
// directly instead.
func (s *Session) startTimer(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil || s.state != domain.StateInProgress {
		return
	}
	s.timer = startCountdown(period, s.Tick)
}
