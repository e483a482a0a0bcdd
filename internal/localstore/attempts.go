package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"exam-prep-sync/internal/domain"
)

const attemptColumns = `id, device_id, question_id, selected_answer, is_correct, time_taken_seconds, created_at, synced`

// SaveAttempt upserts an attempt. The synced flag never reverts from true to false.
func (s *Store) SaveAttempt(ctx context.Context, a domain.Attempt) error {
	var timeTaken sql.NullInt64
	if a.TimeTakenSeconds != nil {
		timeTaken = sql.NullInt64{Int64: int64(*a.TimeTakenSeconds), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			question_id = excluded.question_id,
			selected_answer = excluded.selected_answer,
			is_correct = excluded.is_correct,
			time_taken_seconds = excluded.time_taken_seconds,
			created_at = excluded.created_at,
			synced = MAX(attempts.synced, excluded.synced)`,
		a.ID, a.DeviceID, a.QuestionID, a.SelectedAnswer, boolToInt(a.IsCorrect),
		timeTaken, a.CreatedAt.UnixMilli(), boolToInt(a.Synced),
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) Attempts(ctx context.Context) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts ORDER BY created_at`)
}

func (s *Store) UnsyncedAttempts(ctx context.Context) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE synced = 0 ORDER BY created_at`)
}

func (s *Store) AttemptsByQuestion(ctx context.Context, questionID string) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE question_id = ? ORDER BY created_at`, questionID)
}

// MarkAttemptSynced flips synced to true. Unknown ids are ignored.
func (s *Store) MarkAttemptSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE attempts SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark attempt %s synced: %w", id, err)
	}
	return nil
}

// CountAttemptsBetween counts attempts created in [from, to).
func (s *Store) CountAttemptsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE created_at >= ? AND created_at < ?`,
		from.UnixMilli(), to.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var (
			a         domain.Attempt
			isCorrect int
			synced    int
			timeTaken sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.QuestionID, &a.SelectedAnswer, &isCorrect, &timeTaken, &createdAt, &synced); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.IsCorrect = isCorrect != 0
		a.Synced = synced != 0
		a.CreatedAt = time.UnixMilli(createdAt)
		if timeTaken.Valid {
			v := int(timeTaken.Int64)
			a.TimeTakenSeconds = &v
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
