package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is the Postgres implementation of app.AttemptRepository.
// Completion writes go through an optimistic-concurrency UPDATE on the
// version column, so of two racing submissions exactly one wins and the
// other observes domain.ErrAttemptConflict.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, user_id, quiz_id, started_at, expires_at, answers, completed_at, score, earned_points, total_points, version`

func (s *AttemptStore) Create(ctx context.Context, attempt *domain.Attempt) error {
	answers, err := marshalAnswers(attempt.Answers)
	if err != nil {
		return err
	}
	attempt.Version = 1
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempts (id, user_id, quiz_id, started_at, expires_at, answers, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.UserID, attempt.QuizID, attempt.StartedAt,
		attempt.ExpiresAt, answers, attempt.Version)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Update(ctx context.Context, attempt *domain.Attempt) error {
	answers, err := marshalAnswers(attempt.Answers)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts
		SET answers=$2, completed_at=$3, score=$4, earned_points=$5, total_points=$6, version=version+1
		WHERE id=$1 AND version=$7`,
		attempt.ID, answers, attempt.CompletedAt, attempt.Score,
		attempt.EarnedPoints, attempt.TotalPoints, attempt.Version)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id=$1)`, attempt.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check attempt: %w", err)
		}
		if !exists {
			return domain.ErrAttemptNotFound
		}
		return domain.ErrAttemptConflict
	}
	attempt.Version++
	return nil
}

func (s *AttemptStore) FindByID(ctx context.Context, id string) (*domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, id)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return attempt, nil
}

func (s *AttemptStore) FindAll(ctx context.Context) ([]*domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *AttemptStore) FindByUser(ctx context.Context, userID string) ([]*domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 ORDER BY started_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func collectAttempts(rows pgx.Rows) ([]*domain.Attempt, error) {
	var attempts []*domain.Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func scanAttempt(row pgx.Row) (*domain.Attempt, error) {
	var (
		attempt domain.Attempt
		answers []byte
	)
	err := row.Scan(&attempt.ID, &attempt.UserID, &attempt.QuizID,
		&attempt.StartedAt, &attempt.ExpiresAt, &answers,
		&attempt.CompletedAt, &attempt.Score, &attempt.EarnedPoints,
		&attempt.TotalPoints, &attempt.Version)
	if err != nil {
		return nil, err
	}
	attempt.Answers = map[int64]int{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &attempt.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return &attempt, nil
}

func marshalAnswers(answers map[int64]int) ([]byte, error) {
	if answers == nil {
		answers = map[int64]int{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	return data, nil
}
