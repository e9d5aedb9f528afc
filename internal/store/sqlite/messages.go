package sqlite

import (
	"context"

	"github.com/hearthstack/hearth/internal/store"
)

func (d *DB) SaveMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = store.GenNewID()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.CreatedAt == 0 {
		// Same-millisecond saves must not reorder: created_at is kept
		// strictly increasing within the process.
		now := store.NowMilli()
		if now <= d.lastMsgTS {
			now = d.lastMsgTS + 1
		}
		d.lastMsgTS = now
		m.CreatedAt = now
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return storeErr("save message", err)
	}
	return nil
}

func (d *DB) ListMessages(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	// Select the most recent N, then return them in chronological order.
	q := `SELECT id, user_id, role, content, created_at
	      FROM messages WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (d *DB) CountMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, storeErr("count messages", err)
	}
	return n, nil
}

func (d *DB) DeleteMessagesBefore(ctx context.Context, userID string, before int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND created_at < ?`, userID, before)
	if err != nil {
		return 0, storeErr("delete messages before", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *DB) DeleteMessagesForUser(ctx context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return storeErr("delete messages", err)
	}
	return nil
}
