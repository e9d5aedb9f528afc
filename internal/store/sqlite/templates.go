package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hearthstack/hearth/internal/store"
)

const templateCols = `id, user_id, name, role_description, default_tools,
	default_tier, times_used, avg_performance, tags, created_at, updated_at`

func (d *DB) InsertTemplate(ctx context.Context, t *store.Template) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO templates (`+templateCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Name, t.RoleDescription, marshalStrings(t.DefaultTools),
		t.DefaultTier, t.TimesUsed, t.AvgPerformance, marshalStrings(t.Tags),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return storeErr("insert template", err)
	}
	return nil
}

func (d *DB) GetTemplate(ctx context.Context, id string) (*store.Template, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get template", err)
	}
	return t, nil
}

func (d *DB) ListTemplates(ctx context.Context, userID string) ([]store.Template, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM templates WHERE user_id = ?
		 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, storeErr("list templates", err)
	}
	defer rows.Close()

	var ts []store.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, storeErr("scan template", err)
		}
		ts = append(ts, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list templates", err)
	}
	return ts, nil
}

func (d *DB) CountTemplates(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM templates WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, storeErr("count templates", err)
	}
	return n, nil
}

func (d *DB) UpdateTemplate(ctx context.Context, t *store.Template) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`UPDATE templates SET name = ?, role_description = ?, default_tools = ?,
		 default_tier = ?, times_used = ?, avg_performance = ?, tags = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.RoleDescription, marshalStrings(t.DefaultTools), t.DefaultTier,
		t.TimesUsed, t.AvgPerformance, marshalStrings(t.Tags), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return storeErr("update template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) DeleteTemplate(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete template", err)
	}
	return nil
}

func scanTemplate(r rowScanner) (*store.Template, error) {
	var t store.Template
	var tools, tags string
	err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.RoleDescription, &tools,
		&t.DefaultTier, &t.TimesUsed, &t.AvgPerformance, &tags,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.DefaultTools = unmarshalStrings(tools)
	t.Tags = unmarshalStrings(tags)
	return &t, nil
}
