package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hearthstack/hearth/internal/store"
)

func (d *DB) InsertCompaction(ctx context.Context, c *store.Compaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO compactions (id, user_id, summary, replaced_before, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Summary, c.ReplacedBefore, c.CreatedAt,
	)
	if err != nil {
		return storeErr("insert compaction", err)
	}
	return nil
}

func (d *DB) LatestCompaction(ctx context.Context, userID string) (*store.Compaction, error) {
	var c store.Compaction
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, summary, replaced_before, created_at
		 FROM compactions WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID).
		Scan(&c.ID, &c.UserID, &c.Summary, &c.ReplacedBefore, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("latest compaction", err)
	}
	return &c, nil
}
