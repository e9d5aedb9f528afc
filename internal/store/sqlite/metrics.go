package sqlite

import (
	"context"

	"github.com/hearthstack/hearth/internal/store"
)

func (d *DB) InsertMetric(ctx context.Context, m *store.TaskMetric) error {
	if m.ID == "" {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = store.NowMilli()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO task_metrics (id, user_id, task_type, tier, duration_ms, iterations, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.TaskType, m.Tier, m.DurationMs, m.Iterations,
		boolInt(m.Success), m.CreatedAt,
	)
	if err != nil {
		return storeErr("insert metric", err)
	}
	return nil
}

func (d *DB) ListRecentMetrics(ctx context.Context, taskType, tier string, limit int) ([]store.TaskMetric, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, task_type, tier, duration_ms, iterations, success, created_at
		 FROM task_metrics WHERE task_type = ? AND tier = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		taskType, tier, limit)
	if err != nil {
		return nil, storeErr("list metrics", err)
	}
	defer rows.Close()

	var ms []store.TaskMetric
	for rows.Next() {
		var m store.TaskMetric
		var success int
		if err := rows.Scan(&m.ID, &m.UserID, &m.TaskType, &m.Tier,
			&m.DurationMs, &m.Iterations, &success, &m.CreatedAt); err != nil {
			return nil, storeErr("scan metric", err)
		}
		m.Success = success != 0
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list metrics", err)
	}
	return ms, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
