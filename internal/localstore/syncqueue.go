package localstore

import (
	"context"
	"fmt"
	"time"

	"exam-prep-sync/internal/domain"
	"github.com/google/uuid"
)

// Enqueue appends a pending remote operation. Entries are returned in insertion order.
func (s *Store) Enqueue(ctx context.Context, action domain.SyncAction, table string, data []byte) (domain.SyncEntry, error) {
	entry := domain.SyncEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Table:     table,
		Data:      data,
		CreatedAt: time.Now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, action, table_name, data, retries, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		entry.ID, string(entry.Action), entry.Table, entry.Data, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.SyncEntry{}, fmt.Errorf("enqueue %s %s: %w", action, table, err)
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		return domain.SyncEntry{}, fmt.Errorf("enqueue seq: %w", err)
	}
	return entry, nil
}

func (s *Store) SyncQueue(ctx context.Context) ([]domain.SyncEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, action, table_name, data, retries, created_at FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	var entries []domain.SyncEntry
	for rows.Next() {
		var (
			e         domain.SyncEntry
			action    string
			createdAt int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &action, &e.Table, &e.Data, &e.Retries, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync entry: %w", err)
		}
		e.Action = domain.SyncAction(action)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteSyncEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sync entry %s: %w", id, err)
	}
	return nil
}

// TouchSyncEntry records a failed delivery attempt.
func (s *Store) TouchSyncEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET retries = retries + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("touch sync entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) ClearSyncQueue(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clear sync queue: %w", err)
	}
	return nil
}
