package storage

import (
	"context"

	"livepoll/domain"
)

// Disabled stands in when no archive database is configured. The live session
// keeps working; history reads come back empty.
type Disabled struct{}

func (Disabled) SavePollHistory(ctx context.Context, rec domain.QuestionRecord) error {
	return nil
}

func (Disabled) GetPollHistory(ctx context.Context, ownerID string, limit int) ([]domain.QuestionRecord, error) {
	return []domain.QuestionRecord{}, nil
}

func (Disabled) GetPollDetails(ctx context.Context, code string) (domain.QuestionRecord, error) {
	return domain.QuestionRecord{}, domain.ErrRecordNotFound
}

func (Disabled) GetPollStats(ctx context.Context, ownerID string) (domain.OwnerStats, error) {
	return domain.OwnerStats{}, nil
}
