package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"exam-session-service/internal/domain"
)

// CatalogLoader fetches catalog content from a backing store (e.g. the
// hosted document DB).
type CatalogLoader interface {
	LoadAssessments(ctx context.Context) ([]domain.Assessment, error)
	LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error)
}

// CatalogRepository caches catalog reads with TTL to avoid repeated store
// hits. Question sets are cached per (assessment, set) pair. An empty set is
// cached too: "no questions for this set" is a valid state, not a miss.
type CatalogRepository struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu          sync.RWMutex
	assessments *cachedAssessments
	questions   map[string]cachedQuestions
}

type cachedAssessments struct {
	list      []domain.Assessment
	expiresAt time.Time
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCatalogRepository(loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		questions: make(map[string]cachedQuestions),
	}
}

func (r *CatalogRepository) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	now := r.clock()

	r.mu.RLock()
	if r.assessments != nil && r.assessments.expiresAt.After(now) {
		list := r.assessments.list
		r.mu.RUnlock()
		return list, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("assessments", func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if r.assessments != nil && r.assessments.expiresAt.After(now) {
			list := r.assessments.list
			r.mu.RUnlock()
			return list, nil
		}
		r.mu.RUnlock()

		list, err := r.loader.LoadAssessments(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.assessments = &cachedAssessments{list: list, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Assessment), nil
}

func (r *CatalogRepository) GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	list, err := r.ListAssessments(ctx)
	if err != nil {
		return domain.Assessment{}, err
	}
	for _, a := range list {
		if a.ID == assessmentID {
			return a, nil
		}
	}
	return domain.Assessment{}, domain.ErrAssessmentNotFound
}

func (r *CatalogRepository) LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error) {
	key := assessmentID + ":" + set
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.questions[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("questions:"+key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.questions[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadQuestions(ctx, assessmentID, set)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.questions[key] = cachedQuestions{questions: questions, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticCatalogLoader serves a fixed catalog from memory (tests/demos).
type StaticCatalogLoader struct {
	assessments []domain.Assessment
	questions   map[string]map[string][]domain.Question // assessment -> set -> questions
}

func NewStaticCatalogLoader(assessments []domain.Assessment, questions map[string]map[string][]domain.Question) *StaticCatalogLoader {
	return &StaticCatalogLoader{assessments: assessments, questions: questions}
}

func (l *StaticCatalogLoader) LoadAssessments(context.Context) ([]domain.Assessment, error) {
	return l.assessments, nil
}

func (l *StaticCatalogLoader) LoadQuestions(_ context.Context, assessmentID, set string) ([]domain.Question, error) {
	sets, ok := l.questions[assessmentID]
	if !ok {
		return nil, nil
	}
	return sets[set], nil
}
