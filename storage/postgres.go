package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livepoll/domain"
)

// PostgresRepo is the durable archive of completed questions. It is a pure
// sink for the live engine: writes are best-effort, reads serve the history
// retrieval events.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) SavePollHistory(ctx context.Context, rec domain.QuestionRecord) error {
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	students, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}

	var expected *int
	if rec.ExpectedResponses > 0 {
		expected = &rec.ExpectedResponses
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO poll_history (
			poll_code, teacher_id, question, options, answers, students,
			duration_seconds, expected_responses, started_at, ended_at,
			total_responses, correct_answers, messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.PollCode, rec.OwnerID, rec.Question, options, answers, students,
		rec.DurationSeconds, expected, rec.StartedAt, rec.EndedAt,
		rec.TotalResponses, rec.CorrectAnswers, messages,
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	return nil
}

const recordColumns = `
	poll_code, teacher_id, question, options, answers, students,
	duration_seconds, COALESCE(expected_responses, 0), started_at, ended_at,
	total_responses, correct_answers, messages`

func scanRecord(row pgx.Row) (domain.QuestionRecord, error) {
	var rec domain.QuestionRecord
	var options, answers, students, messages []byte

	err := row.Scan(
		&rec.PollCode, &rec.OwnerID, &rec.Question, &options, &answers, &students,
		&rec.DurationSeconds, &rec.ExpectedResponses, &rec.StartedAt, &rec.EndedAt,
		&rec.TotalResponses, &rec.CorrectAnswers, &messages,
	)
	if err != nil {
		return rec, err
	}

	if err := json.Unmarshal(options, &rec.Options); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(students, &rec.Participants); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(messages, &rec.Messages); err != nil {
		return rec, err
	}
	return rec, nil
}

// GetPollHistory returns an owner's archived questions, newest first.
func (r *PostgresRepo) GetPollHistory(ctx context.Context, ownerID string, limit int) ([]domain.QuestionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM poll_history
		WHERE teacher_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	defer rows.Close()

	records := []domain.QuestionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.DatabaseError, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}
	return records, nil
}

// GetPollDetails returns the most recently archived question for a code.
func (r *PostgresRepo) GetPollDetails(ctx context.Context, code string) (domain.QuestionRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM poll_history
		WHERE poll_code = $1
		ORDER BY created_at DESC
		LIMIT 1`, code)

	rec, err := scanRecord(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.QuestionRecord{}, domain.ErrRecordNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.QuestionRecord{}, err
		default:
			return domain.QuestionRecord{}, fmt.Errorf("%w: %w", domain.DatabaseError, err)
		}
	}
	return rec, nil
}

// GetPollStats aggregates over an owner's archived questions. Distinct
// participants are counted by display name across all archived rosters.
func (r *PostgresRepo) GetPollStats(ctx context.Context, ownerID string) (domain.OwnerStats, error) {
	var stats domain.OwnerStats

	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_responses), 0),
		       COALESCE(AVG(total_responses), 0)
		FROM poll_history
		WHERE teacher_id = $1`, ownerID)
	if err := row.Scan(&stats.TotalPolls, &stats.TotalResponses, &stats.AvgResponses); err != nil {
		return stats, fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}

	row = r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT s.value)
		FROM poll_history h
		CROSS JOIN LATERAL jsonb_each_text(h.students) s
		WHERE h.teacher_id = $1`, ownerID)
	if err := row.Scan(&stats.TotalStudents); err != nil {
		return stats, fmt.Errorf("%w: %w", domain.DatabaseError, err)
	}

	return stats, nil
}
