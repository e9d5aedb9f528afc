package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hearthstack/hearth/internal/store"
)

func (d *DB) UpsertMemory(ctx context.Context, m *store.MemoryEntry) error {
	if m.ID == "" {
		m.ID = store.GenNewID()
	}
	m.UpdatedAt = store.NowMilli()
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO memory (id, user_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		m.ID, m.UserID, m.Key, m.Value, m.UpdatedAt,
	)
	if err != nil {
		return storeErr("upsert memory", err)
	}
	return nil
}

func (d *DB) GetMemory(ctx context.Context, userID, key string) (*store.MemoryEntry, error) {
	var m store.MemoryEntry
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, key, value, updated_at FROM memory
		 WHERE user_id = ? AND key = ?`, userID, key).
		Scan(&m.ID, &m.UserID, &m.Key, &m.Value, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get memory", err)
	}
	return &m, nil
}

func (d *DB) SearchMemory(ctx context.Context, userID, query string, limit int) ([]store.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, key, value, updated_at FROM memory
		 WHERE user_id = ? AND (key LIKE '%' || ? || '%' OR value LIKE '%' || ? || '%')
		 ORDER BY updated_at DESC LIMIT ?`,
		userID, query, query, limit)
	if err != nil {
		return nil, storeErr("search memory", err)
	}
	defer rows.Close()

	var ms []store.MemoryEntry
	for rows.Next() {
		var m store.MemoryEntry
		if err := rows.Scan(&m.ID, &m.UserID, &m.Key, &m.Value, &m.UpdatedAt); err != nil {
			return nil, storeErr("scan memory", err)
		}
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search memory", err)
	}
	return ms, nil
}
