package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hearthstack/hearth/internal/store"
)

const blackboardCols = `id, user_id, problem_id, problem_text, agent_id,
	agent_role, proposal, confidence, status, synthesis, created_at`

func (d *DB) InsertEntry(ctx context.Context, e *store.BlackboardEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO blackboard (`+blackboardCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ProblemID, nullStr(e.ProblemText), nullStr(e.AgentID),
		nullStr(e.AgentRole), nullStr(e.Proposal), e.Confidence, e.Status,
		nullStr(e.Synthesis), e.CreatedAt,
	)
	if err != nil {
		return storeErr("insert blackboard entry", err)
	}
	return nil
}

func (d *DB) GetEntry(ctx context.Context, id string) (*store.BlackboardEntry, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+blackboardCols+` FROM blackboard WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get blackboard entry", err)
	}
	return e, nil
}

func (d *DB) UpdateEntry(ctx context.Context, e *store.BlackboardEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx,
		`UPDATE blackboard SET status = ?, synthesis = ? WHERE id = ?`,
		e.Status, nullStr(e.Synthesis), e.ID)
	if err != nil {
		return storeErr("update blackboard entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ListProposals(ctx context.Context, problemID string) ([]store.BlackboardEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+blackboardCols+` FROM blackboard
		 WHERE problem_id = ? AND id != problem_id
		 ORDER BY confidence DESC, created_at`, problemID)
	if err != nil {
		return nil, storeErr("list proposals", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (d *DB) ListOpenProblems(ctx context.Context, userID string) ([]store.BlackboardEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+blackboardCols+` FROM blackboard
		 WHERE user_id = ? AND id = problem_id AND status = ? AND problem_text IS NOT NULL
		 ORDER BY created_at`, userID, store.ProblemOpen)
	if err != nil {
		return nil, storeErr("list open problems", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (d *DB) CountProposals(ctx context.Context, problemID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blackboard WHERE problem_id = ? AND id != problem_id`,
		problemID).Scan(&n)
	if err != nil {
		return 0, storeErr("count proposals", err)
	}
	return n, nil
}

func (d *DB) DeleteResolvedBefore(ctx context.Context, before int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Remove proposals of expiring roots first, then the roots.
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM blackboard WHERE problem_id IN (
		   SELECT id FROM blackboard
		   WHERE id = problem_id AND status = ? AND created_at < ?
		 ) AND id != problem_id`, store.ProblemResolved, before)
	if err != nil {
		return 0, storeErr("delete resolved proposals", err)
	}
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM blackboard
		 WHERE id = problem_id AND status = ? AND created_at < ?`,
		store.ProblemResolved, before)
	if err != nil {
		return 0, storeErr("delete resolved problems", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func collectEntries(rows *sql.Rows) ([]store.BlackboardEntry, error) {
	var es []store.BlackboardEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("scan blackboard entry", err)
		}
		es = append(es, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("collect blackboard entries", err)
	}
	return es, nil
}

func scanEntry(r rowScanner) (*store.BlackboardEntry, error) {
	var e store.BlackboardEntry
	var problemText, agentID, agentRole, proposal, synthesis sql.NullString
	var confidence sql.NullFloat64
	err := r.Scan(&e.ID, &e.UserID, &e.ProblemID, &problemText, &agentID,
		&agentRole, &proposal, &confidence, &e.Status, &synthesis, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ProblemText = problemText.String
	e.AgentID = agentID.String
	e.AgentRole = agentRole.String
	e.Proposal = proposal.String
	e.Confidence = confidence.Float64
	e.Synthesis = synthesis.String
	return &e, nil
}
