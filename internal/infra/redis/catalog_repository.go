package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
)

// CatalogRepository caches catalog reads in Redis as JSON values and falls
// back to a loader on cache miss.
// Keys:
//
//	catalog:assessments                      -> JSON array of assessments
//	catalog:questions:{assessmentID}:{set}   -> JSON array of questions
//
// An empty question set is cached as "[]" so the no-questions state is a
// cache hit, not a repeated store read.
type CatalogRepository struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogRepository(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	key := "catalog:assessments"

	if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var list []domain.Assessment
		if json.Unmarshal(cached, &list) == nil {
			return list, nil
		}
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var list []domain.Assessment
			if json.Unmarshal(cached, &list) == nil {
				return list, nil
			}
		}

		list, err := r.loader.LoadAssessments(ctx)
		if err != nil {
			return nil, err
		}
		r.fill(ctx, key, list)
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
	key := "catalog:questions:" + assessmentID + ":" + set

	if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var questions []domain.Question
		if json.Unmarshal(cached, &questions) == nil {
			return questions, nil
		}
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var questions []domain.Question
			if json.Unmarshal(cached, &questions) == nil {
				return questions, nil
			}
		}

		questions, err := r.loader.LoadQuestions(ctx, assessmentID, set)
		if err != nil {
			return nil, err
		}
		if questions == nil {
			questions = []domain.Question{}
		}
		r.fill(ctx, key, questions)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// fill is best-effort: a cache write failure never fails the read path.
func (r *CatalogRepository) fill(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
