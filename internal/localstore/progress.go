package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"exam-prep-sync/internal/domain"
)

func (s *Store) SaveDailyGoal(ctx context.Context, g domain.DailyGoal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO daily_goal (id, date, target, completed, type) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Date, g.Target, g.Completed, g.Type,
	)
	if err != nil {
		return fmt.Errorf("save daily goal %s: %w", g.Date, err)
	}
	return nil
}

// DailyGoal returns the goal row for date, ok=false if none was saved.
func (s *Store) DailyGoal(ctx context.Context, date string) (domain.DailyGoal, bool, error) {
	var g domain.DailyGoal
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, target, completed, type FROM daily_goal WHERE id = ?`, date,
	).Scan(&g.ID, &g.Date, &g.Target, &g.Completed, &g.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyGoal{}, false, nil
	}
	if err != nil {
		return domain.DailyGoal{}, false, fmt.Errorf("load daily goal %s: %w", date, err)
	}
	return g, true, nil
}

func (s *Store) SaveStreak(ctx context.Context, st domain.Streak) error {
	if st.ID == "" {
		st.ID = domain.StreakID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO streak (id, current_streak, longest_streak, last_active_date) VALUES (?, ?, ?, ?)`,
		st.ID, st.CurrentStreak, st.LongestStreak, st.LastActiveDate,
	)
	if err != nil {
		return fmt.Errorf("save streak: %w", err)
	}
	return nil
}

// Streak returns the singleton streak row, ok=false if none was saved.
func (s *Store) Streak(ctx context.Context) (domain.Streak, bool, error) {
	var st domain.Streak
	err := s.db.QueryRowContext(ctx,
		`SELECT id, current_streak, longest_streak, last_active_date FROM streak WHERE id = ?`, domain.StreakID,
	).Scan(&st.ID, &st.CurrentStreak, &st.LongestStreak, &st.LastActiveDate)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Streak{}, false, nil
	}
	if err != nil {
		return domain.Streak{}, false, fmt.Errorf("load streak: %w", err)
	}
	return st, true, nil
}
