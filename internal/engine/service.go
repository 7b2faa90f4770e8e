package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"exam-session-service/internal/domain"
)

// Catalog is the read-only projection over the assessment store. LoadQuestions
// returns an empty slice (not an error) when a set has no questions.
type Catalog interface {
	ListAssessments(ctx context.Context) ([]domain.Assessment, error)
	GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
	LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error)
}

// VariantResolver decides which question set a participant receives. It never
// fails: an unreachable or malformed assignment service resolves to the
// default set with degraded=true.
type VariantResolver interface {
	Resolve(ctx context.Context, participantID string) (set string, degraded bool)
}

// ResultStore appends one immutable result record and returns it with the
// store-assigned submission timestamp.
type ResultStore interface {
	Save(ctx context.Context, result domain.Result) (domain.Result, error)
}

// SessionRegistry tracks the single active session per participant
// (in-memory, Redis-marked, etc).
type SessionRegistry interface {
	Get(participantID string) (*Session, bool)
	// Claim registers a session; false if the participant already has one.
	Claim(participantID string, session *Session) bool
	Release(participantID string)
}

// CatalogListing is the browsing surface: available assessments plus the set
// the participant is assigned to.
type CatalogListing struct {
	Assessments []domain.Assessment `json:"assessments"`
	Set         string              `json:"set"`
	SetDegraded bool                `json:"setDegraded"`
}

// Service contains the assessment session use cases.
type Service struct {
	catalog  Catalog
	variants VariantResolver
	results  ResultStore
	registry SessionRegistry
	duration time.Duration
	log      zerolog.Logger

	tickPeriod  time.Duration
	manualTicks bool
}

func NewService(catalog Catalog, variants VariantResolver, results ResultStore, registry SessionRegistry, duration time.Duration, log zerolog.Logger) *Service {
	return &Service{
		catalog:    catalog,
		variants:   variants,
		results:    results,
		registry:   registry,
		duration:   duration,
		log:        log.With().Str("component", "engine").Logger(),
		tickPeriod: time.Second,
	}
}

// ManualTicks disables the real countdown goroutine; tests drive
// Session.Tick directly for deterministic time.
func (s *Service) ManualTicks() *Service {
	s.manualTicks = true
	return s
}

// ListAvailable returns the catalog along with the participant's assigned set.
func (s *Service) ListAvailable(ctx context.Context, p domain.Participant) (CatalogListing, error) {
	assessments, err := s.catalog.ListAssessments(ctx)
	if err != nil {
		return CatalogListing{}, err
	}
	set, degraded := s.variants.Resolve(ctx, p.ID)
	return CatalogListing{Assessments: assessments, Set: set, SetDegraded: degraded}, nil
}

// Start begins a new attempt: resolves the participant's variant set, loads
// the question snapshot, and starts the countdown. A participant with an
// attempt still active is rejected; the first attempt must be submitted or
// abandoned before another begins.
func (s *Service) Start(ctx context.Context, p domain.Participant, assessmentID string) (domain.SessionView, error) {
	replacing := false
	if existing, ok := s.registry.Get(p.ID); ok {
		// A completed attempt stays registered so its result remains
		// readable; starting again replaces it with a fresh session.
		if existing.State() != domain.StateCompleted {
			return domain.SessionView{}, domain.ErrSessionActive
		}
		replacing = true
	}

	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return domain.SessionView{}, err
	}

	set, degraded := s.variants.Resolve(ctx, p.ID)

	questions, err := s.catalog.LoadQuestions(ctx, assessmentID, set)
	if err != nil {
		return domain.SessionView{}, err
	}
	if len(questions) == 0 {
		// Valid empty state: the session still starts and the view shows a
		// no-questions condition.
		s.log.Info().Str("assessment", assessmentID).Str("set", set).
			Msg("no questions available for this set")
	}

	session := newSession(p, assessment, set, degraded, questions, int(s.duration.Seconds()))
	session.onExpire = s.forceSubmit
	// The completed predecessor is released only now, with the replacement
	// ready; a failed catalog read above leaves it and its result in place.
	if replacing {
		s.registry.Release(p.ID)
	}
	if !s.registry.Claim(p.ID, session) {
		return domain.SessionView{}, domain.ErrSessionActive
	}
	if !s.manualTicks {
		session.startTimer(s.tickPeriod)
	}

	s.log.Info().Str("participant", p.ID).Str("assessment", assessmentID).
		Str("set", set).Bool("degraded", degraded).Msg("session started")
	return session.View(), nil
}

// Answer records the participant's selection for a question.
func (s *Service) Answer(participantID, questionID string, option int) (domain.SessionView, error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView(), domain.ErrNoSession
	}
	return session.Answer(questionID, option)
}

// Next advances to the following question, clamped at the end.
func (s *Service) Next(participantID string) (domain.SessionView, error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView(), domain.ErrNoSession
	}
	return session.Next()
}

// Previous returns to the preceding question, clamped at the start.
func (s *Service) Previous(participantID string) (domain.SessionView, error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView(), domain.ErrNoSession
	}
	return session.Previous()
}

// JumpTo moves directly to a question index, clamped to the snapshot.
func (s *Service) JumpTo(participantID string, index int) (domain.SessionView, error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView(), domain.ErrNoSession
	}
	return session.JumpTo(index)
}

// Submit finalizes the attempt explicitly and persists the result. When a
// previous persist failed, calling Submit again retries persistence with the
// cached result. After completion it returns ErrInvalidTransition and the
// stored result is untouched.
func (s *Service) Submit(ctx context.Context, participantID string) (domain.SessionView, error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView(), domain.ErrNoSession
	}
	if err := session.BeginSubmit(); err != nil {
		return session.View(), err
	}
	return s.persist(ctx, session)
}

// CurrentState exposes the lifecycle state, current question, remaining time
// and, once completed, the result. Without an active session it reports the
// browsing state.
func (s *Service) CurrentState(participantID string) domain.SessionView {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return browsingView()
	}
	return session.View()
}

// Abandon discards an in-progress attempt without recording a result.
func (s *Service) Abandon(participantID string) error {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return domain.ErrNoSession
	}
	if err := session.Abandon(); err != nil {
		return err
	}
	s.registry.Release(participantID)
	s.log.Info().Str("participant", participantID).Msg("session abandoned")
	return nil
}

// Subscribe returns a channel of view snapshots for the participant's active
// session. The caller must invoke cancel to avoid leaks.
func (s *Service) Subscribe(participantID string) (<-chan domain.SessionView, func(), error) {
	session, ok := s.registry.Get(participantID)
	if !ok {
		return nil, nil, domain.ErrNoSession
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Session exposes the active session; infrastructure and tests use it to
// drive ticks deterministically.
func (s *Service) Session(participantID string) (*Session, bool) {
	return s.registry.Get(participantID)
}

// forceSubmit runs on the countdown goroutine when remaining time hits zero.
// The attempt is already frozen; this drives the guarded persist. A failed
// write leaves the cached result in place for an explicit retry.
func (s *Service) forceSubmit(session *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p := session.Participant()
	if _, err := s.persist(ctx, session); err != nil {
		s.log.Error().Err(err).Str("participant", p.ID).
			Msg("forced submission not yet confirmed")
		return
	}
	s.log.Info().Str("participant", p.ID).Msg("forced submission persisted")
}

func (s *Service) persist(ctx context.Context, session *Session) (domain.SessionView, error) {
	pending, err := session.acquirePersist()
	if err != nil {
		return session.View(), err
	}

	saved, err := s.results.Save(ctx, pending)
	if err != nil {
		session.persistFailed()
		s.log.Error().Err(err).Str("participant", pending.ParticipantID).
			Str("assessment", pending.AssessmentID).Msg("result persistence failed")
		if errors.Is(err, domain.ErrPersistenceFailure) {
			return session.View(), err
		}
		return session.View(), domain.ErrPersistenceFailure
	}

	view := session.persistSucceeded(saved)
	s.log.Info().Str("participant", pending.ParticipantID).
		Str("assessment", pending.AssessmentID).
		Int("score", saved.Score).Int("max", saved.MaxScore).
		Msg("result recorded")
	return view, nil
}

func browsingView() domain.SessionView {
	return domain.SessionView{State: domain.StateBrowsing, Answered: map[string]bool{}}
}
