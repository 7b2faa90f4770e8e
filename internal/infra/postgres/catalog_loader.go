package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"exam-session-service/internal/domain"
)

// CatalogLoader reads the assessment catalog from Postgres. Question sets
// are stored as one JSONB document per (assessment_id, set_label), keeping
// the loosely-typed store shape at this boundary only: rows are parsed into
// typed entities here and nowhere else.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadAssessments(ctx context.Context) ([]domain.Assessment, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, name, description FROM assessments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list assessments: %v", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var assessments []domain.Assessment
	for rows.Next() {
		var a domain.Assessment
		if err := rows.Scan(&a.ID, &a.Name, &a.Description); err != nil {
			return nil, fmt.Errorf("%w: scan assessment: %v", domain.ErrCatalogUnavailable, err)
		}
		assessments = append(assessments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list assessments: %v", domain.ErrCatalogUnavailable, err)
	}
	return assessments, nil
}

// LoadQuestions returns the ordered question list for one set. A set with no
// stored questions yields an empty slice, not an error.
func (l *CatalogLoader) LoadQuestions(ctx context.Context, assessmentID, set string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT data FROM question_sets WHERE assessment_id=$1 AND set_label=$2`,
		assessmentID, set,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load questions: %v", domain.ErrCatalogUnavailable, err)
	}

	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("%w: unmarshal questions: %v", domain.ErrCatalogUnavailable, err)
	}
	for i := range questions {
		questions[i].AssessmentID = assessmentID
		questions[i].Set = set
	}
	return questions, nil
}
