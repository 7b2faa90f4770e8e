package memory

import (
	"context"
	"testing"
	"time"

	"exam-session-service/internal/domain"
)

func TestCatalogRepositoryCachesQuestionSets(t *testing.T) {
	loader := &countingLoader{CatalogLoader: sampleLoader()}
	repo := NewCatalogRepository(loader, time.Minute)

	questions, err := repo.LoadQuestions(context.Background(), "algebra1", "1")
	if err != nil {
		t.Fatalf("load questions: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(questions))
	}
	if loader.questionCalls != 1 {
		t.Fatalf("expected loader once, got %d", loader.questionCalls)
	}

	if _, err := repo.LoadQuestions(context.Background(), "algebra1", "1"); err != nil {
		t.Fatalf("load questions 2: %v", err)
	}
	if loader.questionCalls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.questionCalls)
	}

	// A different set is a different cache entry.
	if _, err := repo.LoadQuestions(context.Background(), "algebra1", "2"); err != nil {
		t.Fatalf("load set 2: %v", err)
	}
	if loader.questionCalls != 2 {
		t.Fatalf("expected second loader call, got %d", loader.questionCalls)
	}
}

func TestCatalogRepositoryEmptySetIsValid(t *testing.T) {
	repo := NewCatalogRepository(sampleLoader(), time.Minute)

	questions, err := repo.LoadQuestions(context.Background(), "algebra1", "9")
	if err != nil {
		t.Fatalf("empty set must not error: %v", err)
	}
	if len(questions) != 0 {
		t.Fatalf("expected empty sequence, got %d", len(questions))
	}
}

func TestCatalogRepositoryListsAndFindsAssessments(t *testing.T) {
	loader := &countingLoader{CatalogLoader: sampleLoader()}
	repo := NewCatalogRepository(loader, time.Minute)

	list, err := repo.ListAssessments(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "algebra1" {
		t.Fatalf("unexpected listing %+v", list)
	}

	if _, err := repo.GetAssessment(context.Background(), "algebra1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if loader.assessmentCalls != 1 {
		t.Fatalf("expected listing served from cache, got %d calls", loader.assessmentCalls)
	}

	if _, err := repo.GetAssessment(context.Background(), "nope"); err != domain.ErrAssessmentNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	CatalogLoader
	assessmentCalls int
	questionCalls   int
}

func (l *countingLoader) LoadAssessments(ctx context.Context) ([]domain.Assessment, error) {
	l.assessmentCalls++
	return l.CatalogLoader.LoadAssessments(ctx)
}

func (l *countingLoader) LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error) {
	l.questionCalls++
	return l.CatalogLoader.LoadQuestions(ctx, assessmentID, set)
}

func sampleLoader() *StaticCatalogLoader {
	return NewStaticCatalogLoader(
		[]domain.Assessment{{ID: "algebra1", Name: "Algebra I"}},
		map[string]map[string][]domain.Question{
			"algebra1": {
				"1": {{ID: "q1", Text: "2 + 2?", Options: []string{"3", "4"}, CorrectOption: 1, Points: 1}},
				"2": {{ID: "q9", Text: "3 + 3?", Options: []string{"6", "7"}, CorrectOption: 0, Points: 1}},
			},
		},
	)
}
