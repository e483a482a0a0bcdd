package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Preference implements identity.Storage.
func (s *Store) Preference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}
