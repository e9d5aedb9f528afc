package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/hearthstack/hearth/internal/store"
)

const agentCols = `id, user_id, role, system_prompt, tools_granted, tier_preference,
	status, performance_score, total_tasks, successful_tasks, template_id,
	created_at, last_active_at, deleted_at`

func (d *DB) InsertAgent(ctx context.Context, a *store.SubAgent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sub_agents (`+agentCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Role, a.SystemPrompt, marshalStrings(a.ToolsGranted),
		a.TierPreference, a.Status, a.PerformanceScore, a.TotalTasks,
		a.SuccessfulTasks, a.TemplateID, a.CreatedAt, a.LastActiveAt,
		nullInt(a.DeletedAt),
	)
	if err != nil {
		return storeErr("insert agent", err)
	}
	return nil
}

func (d *DB) GetAgent(ctx context.Context, id string) (*store.SubAgent, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM sub_agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	return a, nil
}

func (d *DB) ListAgents(ctx context.Context, userID string, statuses ...string) ([]store.SubAgent, error) {
	q := `SELECT ` + agentCols + ` FROM sub_agents WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	q += ` ORDER BY created_at DESC, id`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list agents", err)
	}
	defer rows.Close()

	var agents []store.SubAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, storeErr("scan agent", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list agents", err)
	}
	return agents, nil
}

func (d *DB) CountAgents(ctx context.Context, userID, status string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sub_agents WHERE user_id = ? AND status = ?`,
		userID, status).Scan(&n)
	if err != nil {
		return 0, storeErr("count agents", err)
	}
	return n, nil
}

func (d *DB) UpdateAgent(ctx context.Context, a *store.SubAgent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`UPDATE sub_agents SET role = ?, system_prompt = ?, tools_granted = ?,
		 tier_preference = ?, status = ?, performance_score = ?, total_tasks = ?,
		 successful_tasks = ?, template_id = ?, last_active_at = ?, deleted_at = ?
		 WHERE id = ?`,
		a.Role, a.SystemPrompt, marshalStrings(a.ToolsGranted), a.TierPreference,
		a.Status, a.PerformanceScore, a.TotalTasks, a.SuccessfulTasks,
		a.TemplateID, a.LastActiveAt, nullInt(a.DeletedAt), a.ID,
	)
	if err != nil {
		return storeErr("update agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) DeleteAgent(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `DELETE FROM sub_agents WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete agent", err)
	}
	return nil
}

func (d *DB) DeleteExpiredAgents(ctx context.Context, before int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM sub_agents WHERE status = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		store.AgentSoftDeleted, before)
	if err != nil {
		return 0, storeErr("delete expired agents", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(r rowScanner) (*store.SubAgent, error) {
	var a store.SubAgent
	var tools string
	var deletedAt sql.NullInt64
	err := r.Scan(&a.ID, &a.UserID, &a.Role, &a.SystemPrompt, &tools,
		&a.TierPreference, &a.Status, &a.PerformanceScore, &a.TotalTasks,
		&a.SuccessfulTasks, &a.TemplateID, &a.CreatedAt, &a.LastActiveAt,
		&deletedAt)
	if err != nil {
		return nil, err
	}
	a.ToolsGranted = unmarshalStrings(tools)
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Int64
	}
	return &a, nil
}
