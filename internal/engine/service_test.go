package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/engine"
	"exam-session-service/internal/infra/memory"
	"exam-session-service/internal/variant"
)

const testDuration = 120 * time.Second

var alice = domain.Participant{ID: "p1", DisplayName: "Alice"}

func newTestEngine(t *testing.T, duration time.Duration) (*engine.Service, *memory.ResultStore) {
	t.Helper()
	loader := memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{
			"algebra1": {"1": algebraQuestions()},
		},
	)
	catalog := memory.NewCatalogRepository(loader, time.Minute)
	results := memory.NewResultStore()
	service := engine.NewService(
		catalog, variant.Static{}, results, memory.NewSessionRegistry(),
		duration, zerolog.Nop(),
	).ManualTicks()
	return service, results
}

func TestStartSeedsSession(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestEngine(t, testDuration)

	view, err := service.Start(ctx, alice, "algebra1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.State != domain.StateInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", view.State)
	}
	if view.QuestionCount != 3 || view.QuestionIndex != 0 {
		t.Fatalf("expected 3 questions at index 0, got %d at %d", view.QuestionCount, view.QuestionIndex)
	}
	if view.Remaining != 120 || view.Clock != "2:00" {
		t.Fatalf("expected 120s remaining as 2:00, got %d as %s", view.Remaining, view.Clock)
	}
	if view.Set != "1" || view.SetDegraded {
		t.Fatalf("expected set 1 (not degraded), got %s degraded=%v", view.Set, view.SetDegraded)
	}
	if len(view.Answered) != 0 {
		t.Fatalf("expected empty answer map, got %v", view.Answered)
	}
	if view.Question == nil || view.Question.ID != "q1" {
		t.Fatalf("expected q1 shown, got %+v", view.Question)
	}
}

func TestStartUnknownAssessment(t *testing.T) {
	service, _ := newTestEngine(t, testDuration)
	_, err := service.Start(context.Background(), alice, "nope")
	if !errors.Is(err, domain.ErrAssessmentNotFound) {
		t.Fatalf("expected assessment not found, got %v", err)
	}
}

func TestAnswerAndNavigation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestEngine(t, testDuration)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	view, err := service.Answer(alice.ID, "q1", 1)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !view.Answered["q1"] {
		t.Fatalf("expected q1 answered, got %v", view.Answered)
	}

	// Last write wins.
	if _, err := service.Answer(alice.ID, "q1", 0); err != nil {
		t.Fatalf("re-answer: %v", err)
	}

	if _, err := service.Answer(alice.ID, "ghost", 0); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if _, err := service.Answer(alice.ID, "q1", 7); !errors.Is(err, domain.ErrOptionOutOfRange) {
		t.Fatalf("expected option out of range, got %v", err)
	}

	// Previous at the first question is a clamped no-op.
	view, err = service.Previous(alice.ID)
	if err != nil || view.QuestionIndex != 0 {
		t.Fatalf("expected clamp at 0, got index %d err %v", view.QuestionIndex, err)
	}

	view, _ = service.Next(alice.ID)
	if view.QuestionIndex != 1 {
		t.Fatalf("expected index 1, got %d", view.QuestionIndex)
	}

	// Jump past the end clamps to the last question.
	view, _ = service.JumpTo(alice.ID, 99)
	if view.QuestionIndex != 2 {
		t.Fatalf("expected clamp at 2, got %d", view.QuestionIndex)
	}
	view, _ = service.Next(alice.ID)
	if view.QuestionIndex != 2 {
		t.Fatalf("expected next to clamp at last question, got %d", view.QuestionIndex)
	}
	view, _ = service.JumpTo(alice.ID, -4)
	if view.QuestionIndex != 0 {
		t.Fatalf("expected clamp at 0, got %d", view.QuestionIndex)
	}
}

func TestSubmitCompletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	service, results := newTestEngine(t, testDuration)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = service.Answer(alice.ID, "q1", 1) // correct
	_, _ = service.Answer(alice.ID, "q2", 0) // wrong

	view, err := service.Submit(ctx, alice.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.State != domain.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", view.State)
	}
	if view.Result == nil || view.Result.Score != 1 || view.Result.MaxScore != 3 {
		t.Fatalf("expected 1/3, got %+v", view.Result)
	}
	if view.Result.SubmittedAt.IsZero() {
		t.Fatalf("expected store-assigned timestamp")
	}

	// A second submit is rejected and does not touch the stored result.
	if _, err := service.Submit(ctx, alice.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if saved := results.Saved(); len(saved) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(saved))
	}

	// Answers and navigation are frozen after completion.
	if _, err := service.Answer(alice.ID, "q3", 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on answer, got %v", err)
	}
	if _, err := service.Next(alice.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on next, got %v", err)
	}
}

func TestTimerBoundaryFiresExactlyOneForcedSubmission(t *testing.T) {
	ctx := context.Background()
	service, results := newTestEngine(t, 2*time.Second)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = service.Answer(alice.ID, "q1", 1)

	session, ok := service.Session(alice.ID)
	if !ok {
		t.Fatalf("expected active session")
	}

	session.Tick()
	if view := service.CurrentState(alice.ID); view.Remaining != 1 {
		t.Fatalf("expected 1s remaining, got %d", view.Remaining)
	}

	session.Tick() // reaches exactly zero: forced submission
	view := service.CurrentState(alice.ID)
	if view.State != domain.StateCompleted {
		t.Fatalf("expected COMPLETED after forced submission, got %s", view.State)
	}
	if view.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", view.Remaining)
	}
	if view.Result == nil || view.Result.TimeSpentSecs != 2 {
		t.Fatalf("expected 2s time spent, got %+v", view.Result)
	}

	// Ticks past zero never decrement and never submit again.
	session.Tick()
	session.Tick()
	if view := service.CurrentState(alice.ID); view.Remaining != 0 {
		t.Fatalf("remaining went negative: %d", view.Remaining)
	}
	if saved := results.Saved(); len(saved) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(saved))
	}
}

func TestExplicitSubmitRacesTimeout(t *testing.T) {
	ctx := context.Background()
	service, results := newTestEngine(t, time.Second)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	session, _ := service.Session(alice.ID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		session.Tick() // reaches zero, forced submission
	}()
	go func() {
		defer wg.Done()
		_, _ = service.Submit(ctx, alice.ID) // may lose the race; must not double-persist
	}()
	wg.Wait()

	if saved := results.Saved(); len(saved) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(saved))
	}
	if view := service.CurrentState(alice.ID); view.State != domain.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", view.State)
	}
}

func TestSecondStartRejectedWhileInProgress(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestEngine(t, testDuration)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := service.Start(ctx, alice, "algebra1"); !errors.Is(err, domain.ErrSessionActive) {
		t.Fatalf("expected session active, got %v", err)
	}

	if err := service.Abandon(alice.ID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if view := service.CurrentState(alice.ID); view.State != domain.StateBrowsing {
		t.Fatalf("expected BROWSING after abandon, got %s", view.State)
	}
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("restart after abandon: %v", err)
	}
}

func TestStartAgainAfterCompletion(t *testing.T) {
	ctx := context.Background()
	service, results := newTestEngine(t, testDuration)
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Submit(ctx, alice.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The completed attempt's result stays readable until a new start.
	if view := service.CurrentState(alice.ID); view.Result == nil {
		t.Fatalf("expected result exposed after completion")
	}

	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
	if view := service.CurrentState(alice.ID); view.State != domain.StateInProgress {
		t.Fatalf("expected fresh IN_PROGRESS session, got %s", view.State)
	}
	if saved := results.Saved(); len(saved) != 1 {
		t.Fatalf("restart must not touch stored results, got %d", len(saved))
	}
}

func TestAbandonOfSubmittedAttemptRejected(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestEngine(t, testDuration)
	_, _ = service.Start(ctx, alice, "algebra1")
	_, _ = service.Submit(ctx, alice.ID)

	if err := service.Abandon(alice.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestEmptySetStillStartsSession(t *testing.T) {
	ctx := context.Background()
	loader := memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{"algebra1": {}},
	)
	service := engine.NewService(
		memory.NewCatalogRepository(loader, time.Minute),
		variant.Static{Set: "9"},
		memory.NewResultStore(),
		memory.NewSessionRegistry(),
		testDuration, zerolog.Nop(),
	).ManualTicks()

	view, err := service.Start(ctx, alice, "algebra1")
	if err != nil {
		t.Fatalf("empty set must not fail start: %v", err)
	}
	if view.State != domain.StateInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", view.State)
	}
	if view.QuestionCount != 0 || view.Question != nil {
		t.Fatalf("expected no-questions view, got %+v", view)
	}

	// Navigation stays a no-op and submission records a 0/0 result.
	if v, err := service.Next(alice.ID); err != nil || v.QuestionIndex != 0 {
		t.Fatalf("expected clamped navigation, got %d err %v", v.QuestionIndex, err)
	}
	final, err := service.Submit(ctx, alice.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if final.Result.Score != 0 || final.Result.MaxScore != 0 {
		t.Fatalf("expected 0/0 result, got %+v", final.Result)
	}
}

func TestCatalogFailureIsTyped(t *testing.T) {
	service := engine.NewService(
		memory.NewCatalogRepository(failingLoader{}, time.Minute),
		variant.Static{},
		memory.NewResultStore(),
		memory.NewSessionRegistry(),
		testDuration, zerolog.Nop(),
	).ManualTicks()

	if _, err := service.ListAvailable(context.Background(), alice); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected catalog unavailable, got %v", err)
	}
	if _, err := service.Start(context.Background(), alice, "algebra1"); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected catalog unavailable, got %v", err)
	}
}

func TestPersistFailurePermitsRetry(t *testing.T) {
	ctx := context.Background()
	store := &flakyResultStore{failures: 1}
	loader := memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{"algebra1": {"1": algebraQuestions()}},
	)
	service := engine.NewService(
		memory.NewCatalogRepository(loader, time.Minute),
		variant.Static{}, store, memory.NewSessionRegistry(),
		testDuration, zerolog.Nop(),
	).ManualTicks()

	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = service.Answer(alice.ID, "q1", 1)

	view, err := service.Submit(ctx, alice.ID)
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	// Not submitted: the attempt stays frozen, answers untouchable.
	if view.State != domain.StateSubmitting {
		t.Fatalf("expected SUBMITTING after failed persist, got %s", view.State)
	}
	if _, err := service.Answer(alice.ID, "q2", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected frozen answers, got %v", err)
	}

	view, err = service.Submit(ctx, alice.ID)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if view.State != domain.StateCompleted || view.Result == nil {
		t.Fatalf("expected completion on retry, got %s", view.State)
	}
	if store.attempts != 2 || len(store.saved) != 1 {
		t.Fatalf("expected 2 attempts, 1 saved; got %d/%d", store.attempts, len(store.saved))
	}
	// The frozen result was cached, not rescored after the failed attempt.
	if view.Result.Score != 1 || view.Result.MaxScore != 3 {
		t.Fatalf("expected cached 1/3 result, got %+v", view.Result)
	}
}

func TestExpiredPersistFailureThenExplicitRetry(t *testing.T) {
	ctx := context.Background()
	store := &flakyResultStore{failures: 1}
	loader := memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{"algebra1": {"1": algebraQuestions()}},
	)
	service := engine.NewService(
		memory.NewCatalogRepository(loader, time.Minute),
		variant.Static{}, store, memory.NewSessionRegistry(),
		time.Second, zerolog.Nop(),
	).ManualTicks()

	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = service.Answer(alice.ID, "q1", 1)

	session, _ := service.Session(alice.ID)
	session.Tick() // reaches zero: forced submission, first persist fails

	// Time is up but the write did not confirm: the attempt reads as
	// expired-awaiting-confirmation, never as a live countdown.
	view := service.CurrentState(alice.ID)
	if view.State != domain.StateExpired {
		t.Fatalf("expected EXPIRED after failed forced persist, got %s", view.State)
	}
	if view.Remaining != 0 {
		t.Fatalf("expected frozen clock at 0, got %d", view.Remaining)
	}
	if _, err := service.Answer(alice.ID, "q2", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected frozen answers, got %v", err)
	}

	// An explicit submit retries the persist of the cached result.
	view, err := service.Submit(ctx, alice.ID)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if view.State != domain.StateCompleted || view.Result == nil {
		t.Fatalf("expected completion on retry, got %s", view.State)
	}
	if store.attempts != 2 || len(store.saved) != 1 {
		t.Fatalf("expected 2 attempts, 1 saved; got %d/%d", store.attempts, len(store.saved))
	}
	if view.Result.Score != 1 || view.Result.TimeSpentSecs != 1 {
		t.Fatalf("expected cached 1-point result with 1s spent, got %+v", view.Result)
	}
}

func TestFailedRestartKeepsCompletedResult(t *testing.T) {
	ctx := context.Background()
	loader := &unstableLoader{inner: memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{"algebra1": {"1": algebraQuestions()}},
	)}
	// Nanosecond TTL so every read goes back to the loader.
	service := engine.NewService(
		memory.NewCatalogRepository(loader, time.Nanosecond),
		variant.Static{}, memory.NewResultStore(), memory.NewSessionRegistry(),
		testDuration, zerolog.Nop(),
	).ManualTicks()

	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Submit(ctx, alice.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A restart that fails to load the catalog must not discard the
	// completed attempt or its readable result.
	loader.fail = true
	if _, err := service.Start(ctx, alice, "algebra1"); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected catalog unavailable, got %v", err)
	}
	view := service.CurrentState(alice.ID)
	if view.State != domain.StateCompleted || view.Result == nil {
		t.Fatalf("completed attempt lost after failed restart: %+v", view)
	}

	loader.fail = false
	if _, err := service.Start(ctx, alice, "algebra1"); err != nil {
		t.Fatalf("restart after recovery: %v", err)
	}
}

func TestDegradedResolverStillStartsSession(t *testing.T) {
	ctx := context.Background()
	loader := memory.NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{"algebra1": {"1": algebraQuestions()}},
	)
	// Unreachable assignment service: resolver falls back to set "1".
	resolver := variant.NewResolver("http://127.0.0.1:1", 100*time.Millisecond, zerolog.Nop())
	service := engine.NewService(
		memory.NewCatalogRepository(loader, time.Minute),
		resolver, memory.NewResultStore(), memory.NewSessionRegistry(),
		testDuration, zerolog.Nop(),
	).ManualTicks()

	view, err := service.Start(ctx, alice, "algebra1")
	if err != nil {
		t.Fatalf("degraded resolver must not fail start: %v", err)
	}
	if view.Set != "1" || !view.SetDegraded {
		t.Fatalf("expected degraded fallback to set 1, got %s degraded=%v", view.Set, view.SetDegraded)
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	service, _ := newTestEngine(t, testDuration)

	if view := service.CurrentState(alice.ID); view.State != domain.StateBrowsing {
		t.Fatalf("expected BROWSING, got %s", view.State)
	}
	if _, err := service.Answer(alice.ID, "q1", 0); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
	if _, err := service.Submit(context.Background(), alice.ID); !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
}

type failingLoader struct{}

func (failingLoader) LoadAssessments(context.Context) ([]domain.Assessment, error) {
	return nil, domain.ErrCatalogUnavailable
}

func (failingLoader) LoadQuestions(context.Context, string, string) ([]domain.Question, error) {
	return nil, domain.ErrCatalogUnavailable
}

type unstableLoader struct {
	inner memory.CatalogLoader
	fail  bool
}

func (l *unstableLoader) LoadAssessments(ctx context.Context) ([]domain.Assessment, error) {
	if l.fail {
		return nil, domain.ErrCatalogUnavailable
	}
	return l.inner.LoadAssessments(ctx)
}

func (l *unstableLoader) LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error) {
	if l.fail {
		return nil, domain.ErrCatalogUnavailable
	}
	return l.inner.LoadQuestions(ctx, assessmentID, set)
}

type flakyResultStore struct {
	mu       sync.Mutex
	failures int
	attempts int
	saved    []domain.Result
}

func (s *flakyResultStore) Save(_ context.Context, result domain.Result) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return domain.Result{}, domain.ErrPersistenceFailure
	}
	result.SubmittedAt = time.Now()
	s.saved = append(s.saved, result)
	return result, nil
}
