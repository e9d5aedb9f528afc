package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hearthstack/hearth/internal/store"
)

const taskCols = `id, user_id, agent_id, task_description, status, result,
	started_at, completed_at, delivered_at`

func (d *DB) InsertTask(ctx context.Context, t *store.BackgroundTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO background_tasks (`+taskCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AgentID, t.TaskDescription, t.Status,
		nullStr(t.Result), t.StartedAt, nullInt(t.CompletedAt), nullInt(t.DeliveredAt),
	)
	if err != nil {
		return storeErr("insert task", err)
	}
	return nil
}

func (d *DB) GetTask(ctx context.Context, id string) (*store.BackgroundTask, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM background_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return t, nil
}

func (d *DB) UpdateTask(ctx context.Context, t *store.BackgroundTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, result = ?, completed_at = ?, delivered_at = ?
		 WHERE id = ?`,
		t.Status, nullStr(t.Result), nullInt(t.CompletedAt), nullInt(t.DeliveredAt), t.ID,
	)
	if err != nil {
		return storeErr("update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ListUndelivered(ctx context.Context, userID string) ([]store.BackgroundTask, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM background_tasks
		 WHERE user_id = ? AND status IN (?, ?) AND delivered_at IS NULL
		 ORDER BY completed_at, id`,
		userID, store.TaskCompleted, store.TaskFailed)
	if err != nil {
		return nil, storeErr("list undelivered", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (d *DB) ListRunningBefore(ctx context.Context, before int64) ([]store.BackgroundTask, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM background_tasks
		 WHERE status = ? AND started_at < ? ORDER BY started_at`,
		store.TaskRunning, before)
	if err != nil {
		return nil, storeErr("list running", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]store.BackgroundTask, error) {
	var ts []store.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("scan task", err)
		}
		ts = append(ts, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("collect tasks", err)
	}
	return ts, nil
}

func scanTask(r rowScanner) (*store.BackgroundTask, error) {
	var t store.BackgroundTask
	var result sql.NullString
	var completedAt, deliveredAt sql.NullInt64
	err := r.Scan(&t.ID, &t.UserID, &t.AgentID, &t.TaskDescription, &t.Status,
		&result, &t.StartedAt, &completedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	t.Result = result.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Int64
	}
	if deliveredAt.Valid {
		t.DeliveredAt = &deliveredAt.Int64
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
