package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingAuthor is the author shown on worklogs that only exist locally.
const PendingAuthor = "Pending"

// Worklog is a single timed interval against an issue.
// RemoteID is zero until the remote tracker has assigned an id.
type Worklog struct {
	WorkID    int64     `json:"work_id" yaml:"work_id"`
	RemoteID  int64     `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	IssueID   string    `json:"issue_id" yaml:"issue_id"`
	AccountID string    `json:"account_id" yaml:"account_id"`
	From      time.Time `json:"from" yaml:"from"`
	To        time.Time `json:"to" yaml:"to"`
	Author    string    `json:"author" yaml:"author"`
	Summary   string    `json:"summary" yaml:"summary"`
	Pending   bool      `json:"pending" yaml:"pending"`
	Active    bool      `json:"active" yaml:"active"`
}

// Duration returns To - From.
func (w Worklog) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// ActiveWorklog is the running timer joined with its issue.
type ActiveWorklog struct {
	Worklog
	Issue Issue `json:"issue" yaml:"issue"`
}

const worklogColumns = `work_id, remote_id, issue_id, account_id, started_at, ended_at, author, summary, pending, active`

func scanWorklogFrom(s scanner) (*Worklog, error) {
	var w Worklog
	var remoteID sql.NullInt64
	var from, to int64
	var pending, active int
	err := s.Scan(&w.WorkID, &remoteID, &w.IssueID, &w.AccountID, &from, &to, &w.Author, &w.Summary, &pending, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan worklog: %w", err)
	}
	w.RemoteID = remoteID.Int64
	w.From = fromMillis(from)
	w.To = fromMillis(to)
	w.Pending = pending == 1
	w.Active = active == 1
	return &w, nil
}

func nullRemoteID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func queryWorklogs(ctx context.Context, q queryer, query string, args ...any) ([]Worklog, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query worklogs: %w", err)
	}
	defer rows.Close()

	worklogs := []Worklog{}
	for rows.Next() {
		w, err := scanWorklogFrom(rows)
		if err != nil {
			return nil, err
		}
		worklogs = append(worklogs, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return worklogs, nil
}

func getWorklog(ctx context.Context, q queryer, accountID string, id int64) (*Worklog, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND work_id = ?
	`, accountID, id)
	return scanWorklogFrom(row)
}

func activeWorklog(ctx context.Context, q queryer, accountID string) (*Worklog, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND active = 1
		ORDER BY started_at DESC
		LIMIT 1
	`, accountID)
	return scanWorklogFrom(row)
}

func pendingWorklogs(ctx context.Context, q queryer, accountID string) ([]Worklog, error) {
	return queryWorklogs(ctx, q, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND pending = 1 AND active = 0
		ORDER BY started_at ASC, work_id ASC
	`, accountID)
}

// GetWorklog returns one worklog of the account, or nil.
func (db *DB) GetWorklog(ctx context.Context, accountID string, id int64) (*Worklog, error) {
	return getWorklog(ctx, db.conn, accountID, id)
}

// ActiveWorklog returns the running timer joined with its issue, or nil.
// A timer whose issue row is missing is still reported with a bare issue.
func (db *DB) ActiveWorklog(ctx context.Context, accountID string) (*ActiveWorklog, error) {
	w, err := activeWorklog(ctx, db.conn, accountID)
	if err != nil || w == nil {
		return nil, err
	}
	issue, err := findIssue(ctx, db.conn, accountID, w.IssueID)
	if err != nil {
		return nil, err
	}
	aw := &ActiveWorklog{Worklog: *w, Issue: Issue{ID: w.IssueID, AccountID: accountID}}
	if issue != nil {
		aw.Issue = *issue
	}
	return aw, nil
}

// ActiveWorklogs returns every row flagged active. More than one indicates a
// caller that skipped the active timer check.
func (db *DB) ActiveWorklogs(ctx context.Context, accountID string) ([]Worklog, error) {
	return queryWorklogs(ctx, db.conn, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND active = 1
		ORDER BY started_at ASC
	`, accountID)
}

// PendingWorklogs returns stopped worklogs that have not been accepted remotely.
func (db *DB) PendingWorklogs(ctx context.Context, accountID string) ([]Worklog, error) {
	return pendingWorklogs(ctx, db.conn, accountID)
}

// WorklogsForIssue returns the newest worklogs of an issue.
func (db *DB) WorklogsForIssue(ctx context.Context, accountID, issueID string, limit int) ([]Worklog, error) {
	return queryWorklogs(ctx, db.conn, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND issue_id = ?
		ORDER BY started_at DESC, work_id DESC
		LIMIT ?
	`, accountID, issueID, limit)
}

// WorklogsInWindow returns worklogs that start or end within [start, end].
func (db *DB) WorklogsInWindow(ctx context.Context, accountID string, start, end time.Time) ([]Worklog, error) {
	s, e := toMillis(start), toMillis(end)
	return queryWorklogs(ctx, db.conn, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ?
		  AND ((started_at BETWEEN ? AND ?) OR (ended_at BETWEEN ? AND ?))
		ORDER BY started_at ASC, work_id ASC
	`, accountID, s, e, s, e)
}

// GetWorklog returns one worklog as seen inside the transaction.
func (t *Tx) GetWorklog(accountID string, id int64) (*Worklog, error) {
	return getWorklog(t.ctx, t.tx, accountID, id)
}

// ActiveWorklog returns the running timer as seen inside the transaction.
func (t *Tx) ActiveWorklog(accountID string) (*Worklog, error) {
	return activeWorklog(t.ctx, t.tx, accountID)
}

// UnlinkedWorklogs returns stopped worklogs of an issue with no remote id,
// whether or not they were marked submitted.
func (t *Tx) UnlinkedWorklogs(accountID, issueID string) ([]Worklog, error) {
	return queryWorklogs(t.ctx, t.tx, `
		SELECT `+worklogColumns+`
		FROM worklogs
		WHERE account_id = ? AND issue_id = ? AND active = 0 AND remote_id IS NULL
		ORDER BY started_at ASC, work_id ASC
	`, accountID, issueID)
}

// HasRemoteWorklog reports whether a local row already carries remoteID.
func (t *Tx) HasRemoteWorklog(accountID string, remoteID int64) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT COUNT(*) FROM worklogs WHERE account_id = ? AND remote_id = ?
	`, accountID, remoteID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up remote worklog: %w", err)
	}
	return n > 0, nil
}

// InsertWorklog inserts w, replacing any row with the same WorkID. A zero
// WorkID allocates a new one. The stored id is returned.
func (t *Tx) InsertWorklog(w Worklog) (int64, error) {
	var workID any
	if w.WorkID != 0 {
		workID = w.WorkID
	}
	result, err := t.tx.ExecContext(t.ctx, `
		INSERT OR REPLACE INTO worklogs (`+worklogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, workID, nullRemoteID(w.RemoteID), w.IssueID, w.AccountID, toMillis(w.From), toMillis(w.To),
		w.Author, w.Summary, boolToInt(w.Pending), boolToInt(w.Active))
	if err != nil {
		return 0, fmt.Errorf("failed to insert worklog: %w", err)
	}
	t.touch(TableWorklogs)

	if w.WorkID != 0 {
		return w.WorkID, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get worklog id: %w", err)
	}
	return id, nil
}

// UpdateWorklog overwrites every mutable column of an existing worklog.
func (t *Tx) UpdateWorklog(w Worklog) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE worklogs
		SET remote_id = ?, issue_id = ?, started_at = ?, ended_at = ?,
		    author = ?, summary = ?, pending = ?, active = ?
		WHERE account_id = ? AND work_id = ?
	`, nullRemoteID(w.RemoteID), w.IssueID, toMillis(w.From), toMillis(w.To),
		w.Author, w.Summary, boolToInt(w.Pending), boolToInt(w.Active),
		w.AccountID, w.WorkID)
	if err != nil {
		return fmt.Errorf("failed to update worklog: %w", err)
	}
	t.touch(TableWorklogs)
	return requireAffected(result, "worklog %d", w.WorkID)
}

// MarkSubmitted records the remote id and author of submitted worklogs and
// clears their pending flag. A row is only touched while it is still pending
// with the issue, interval and summary that were submitted. The work ids of
// rows edited, split or deleted in the meantime are returned.
func (t *Tx) MarkSubmitted(submitted []Worklog) ([]int64, error) {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		UPDATE worklogs
		SET pending = 0, remote_id = ?, author = ?
		WHERE account_id = ? AND work_id = ? AND pending = 1 AND active = 0
		  AND issue_id = ? AND started_at = ? AND ended_at = ? AND summary = ?
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var stale []int64
	for _, w := range submitted {
		result, err := stmt.ExecContext(t.ctx, nullRemoteID(w.RemoteID), w.Author,
			w.AccountID, w.WorkID, w.IssueID, toMillis(w.From), toMillis(w.To), w.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to mark worklog %d submitted: %w", w.WorkID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			stale = append(stale, w.WorkID)
		}
	}
	t.touch(TableWorklogs)
	return stale, nil
}

// DeleteWorklog removes a worklog of the account.
func (t *Tx) DeleteWorklog(accountID string, id int64) error {
	result, err := t.tx.ExecContext(t.ctx, `DELETE FROM worklogs WHERE account_id = ? AND work_id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("failed to delete worklog: %w", err)
	}
	t.touch(TableWorklogs)
	return requireAffected(result, "worklog %d", id)
}

// UpsertRemoteWorklogs stores remote worklogs keyed by (account, remote id).
// Rows without a remote id are never matched, so local pending rows survive.
func (t *Tx) UpsertRemoteWorklogs(accountID string, worklogs []Worklog) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT INTO worklogs (remote_id, issue_id, account_id, started_at, ended_at, author, summary, pending, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(account_id, remote_id) DO UPDATE SET
			issue_id = excluded.issue_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			author = excluded.author,
			summary = excluded.summary,
			pending = 0,
			active = 0
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, w := range worklogs {
		if w.RemoteID == 0 {
			return fmt.Errorf("remote worklog on %s has no id", w.IssueID)
		}
		if _, err := stmt.ExecContext(t.ctx, w.RemoteID, w.IssueID, accountID,
			toMillis(w.From), toMillis(w.To), w.Author, w.Summary); err != nil {
			return fmt.Errorf("failed to upsert remote worklog %d: %w", w.RemoteID, err)
		}
	}
	t.touch(TableWorklogs)
	return nil
}
