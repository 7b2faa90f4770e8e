package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"exam-session-service/internal/domain"
)

// resultRow is the storage shape of a result record.
type resultRow struct {
	bun.BaseModel `bun:"table:results"`

	ID            int64        `bun:"id,pk,autoincrement"`
	AssessmentID  string       `bun:"assessment_id,notnull"`
	ParticipantID string       `bun:"participant_id,notnull"`
	SetLabel      string       `bun:"set_label,notnull"`
	Answers       []byte       `bun:"answers,type:jsonb"`
	Score         int          `bun:"score,notnull"`
	MaxScore      int          `bun:"max_score,notnull"`
	TimeSpentSecs int          `bun:"time_spent_secs,notnull"`
	SubmittedAt   bun.NullTime `bun:"submitted_at,nullzero,notnull,default:now()"`
}

// ResultStore appends result records. There is no update or delete path:
// results are immutable once written.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

// Save inserts the result and returns it with the server-assigned timestamp.
func (s *ResultStore) Save(ctx context.Context, result domain.Result) (domain.Result, error) {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: encode answers: %v", domain.ErrPersistenceFailure, err)
	}

	row := &resultRow{
		AssessmentID:  result.AssessmentID,
		ParticipantID: result.ParticipantID,
		SetLabel:      result.Set,
		Answers:       answers,
		Score:         result.Score,
		MaxScore:      result.MaxScore,
		TimeSpentSecs: result.TimeSpentSecs,
	}

	if _, err := s.db.NewInsert().
		Model(row).
		Returning("id, submitted_at").
		Exec(ctx); err != nil {
		return domain.Result{}, fmt.Errorf("%w: insert result: %v", domain.ErrPersistenceFailure, err)
	}

	result.SubmittedAt = row.SubmittedAt.Time
	return result, nil
}
