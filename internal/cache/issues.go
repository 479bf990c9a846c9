package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SortSentinel is the sort order given to issues missing from the latest refresh.
const SortSentinel = 1000

// Issue is a remote issue mirrored for one account.
type Issue struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	Title     string `json:"title" yaml:"title"`
	Pinned    bool   `json:"pinned" yaml:"pinned"`
	Sort      int    `json:"sort" yaml:"sort"`
}

const issueColumns = `id, account_id, title, pinned, sort`

func scanIssueFrom(s scanner) (*Issue, error) {
	var issue Issue
	var pinned int
	if err := s.Scan(&issue.ID, &issue.AccountID, &issue.Title, &pinned, &issue.Sort); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}
	issue.Pinned = pinned == 1
	return &issue, nil
}

func findIssue(ctx context.Context, q queryer, accountID, id string) (*Issue, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE account_id = ? AND id = ?
	`, accountID, id)
	return scanIssueFrom(row)
}

// FindIssue returns the account's copy of an issue, or nil.
func (db *DB) FindIssue(ctx context.Context, accountID, id string) (*Issue, error) {
	return findIssue(ctx, db.conn, accountID, id)
}

// ListIssues returns the account's issues, pinned first and then by sort order.
func (db *DB) ListIssues(ctx context.Context, accountID string, limit int) ([]Issue, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE account_id = ?
		ORDER BY pinned DESC, sort ASC, id ASC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	issues := []Issue{}
	for rows.Next() {
		issue, err := scanIssueFrom(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return issues, nil
}

// FindIssue returns the account's copy of an issue as seen inside the transaction.
func (t *Tx) FindIssue(accountID, id string) (*Issue, error) {
	return findIssue(t.ctx, t.tx, accountID, id)
}

// UpsertIssues replaces whole issue rows, pinned flag included.
func (t *Tx) UpsertIssues(accountID string, issues []Issue) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT OR REPLACE INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(t.ctx, issue.ID, accountID, issue.Title, boolToInt(issue.Pinned), issue.Sort); err != nil {
			return fmt.Errorf("failed to upsert issue %s: %w", issue.ID, err)
		}
	}
	t.touch(TableIssues)
	return nil
}

// MergeIssues inserts unseen issues and refreshes the title of known ones.
// Pinned and sort are left untouched on existing rows.
func (t *Tx) MergeIssues(accountID string, issues []Issue) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id, account_id) DO UPDATE SET title = excluded.title
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(t.ctx, issue.ID, accountID, issue.Title, SortSentinel); err != nil {
			return fmt.Errorf("failed to merge issue %s: %w", issue.ID, err)
		}
	}
	t.touch(TableIssues)
	return nil
}

// ResetSortOrder sinks every issue of the account to SortSentinel.
func (t *Tx) ResetSortOrder(accountID string) error {
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE issues SET sort = ? WHERE account_id = ?`, SortSentinel, accountID); err != nil {
		return fmt.Errorf("failed to reset sort order: %w", err)
	}
	t.touch(TableIssues)
	return nil
}

// SetSortOrder sets the sort order of one issue.
func (t *Tx) SetSortOrder(accountID, issueID string, order int) error {
	result, err := t.tx.ExecContext(t.ctx, `UPDATE issues SET sort = ? WHERE account_id = ? AND id = ?`, order, accountID, issueID)
	if err != nil {
		return fmt.Errorf("failed to set sort order: %w", err)
	}
	t.touch(TableIssues)
	return requireAffected(result, "issue %s", issueID)
}

// TogglePin flips the pinned flag and returns the new value.
func (t *Tx) TogglePin(accountID, issueID string) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE issues SET pinned = 1 - pinned
		WHERE account_id = ? AND id = ?
	`, accountID, issueID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle pin: %w", err)
	}
	if err := requireAffected(result, "issue %s", issueID); err != nil {
		return false, err
	}
	t.touch(TableIssues)

	issue, err := t.FindIssue(accountID, issueID)
	if err != nil {
		return false, err
	}
	return issue.Pinned, nil
}
