package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Account is one set of remote credentials. At most one account is active.
type Account struct {
	ID          string `json:"id" yaml:"id"`
	InstanceURL string `json:"instance_url" yaml:"instance_url"`
	Username    string `json:"username" yaml:"username"`
	Token       string `json:"-" yaml:"-"`
	Active      bool   `json:"active" yaml:"active"`
}

const accountColumns = `id, instance_url, username, token, active`

func scanAccountFrom(s scanner) (*Account, error) {
	var a Account
	var active int
	if err := s.Scan(&a.ID, &a.InstanceURL, &a.Username, &a.Token, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Active = active == 1
	return &a, nil
}

func listAccounts(ctx context.Context, q queryer) ([]Account, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY active DESC, username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccountFrom(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return accounts, nil
}

func activeAccount(ctx context.Context, q queryer) (*Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE active = 1
		LIMIT 1
	`)
	return scanAccountFrom(row)
}

// ListAccounts returns all accounts, the active one first.
func (db *DB) ListAccounts(ctx context.Context) ([]Account, error) {
	return listAccounts(ctx, db.conn)
}

// ActiveAccount returns the active account, or nil when nobody is logged in.
func (db *DB) ActiveAccount(ctx context.Context) (*Account, error) {
	return activeAccount(ctx, db.conn)
}

// GetAccount returns the account with the given id, or nil.
func (db *DB) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccountFrom(row)
}

// InsertAccount inserts or replaces an account row.
func (t *Tx) InsertAccount(a Account) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT OR REPLACE INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.InstanceURL, a.Username, a.Token, boolToInt(a.Active))
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	t.touch(TableAccounts)
	return nil
}

// ClearActiveAccounts deselects every account.
func (t *Tx) ClearActiveAccounts() error {
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE accounts SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("failed to clear active accounts: %w", err)
	}
	t.touch(TableAccounts)
	return nil
}

// SelectAccount makes id the only active account.
func (t *Tx) SelectAccount(id string) error {
	if err := t.ClearActiveAccounts(); err != nil {
		return err
	}
	result, err := t.tx.ExecContext(t.ctx, `UPDATE accounts SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to select account: %w", err)
	}
	return requireAffected(result, "account %s", id)
}

// DeleteAccount removes an account together with its issues and worklogs.
func (t *Tx) DeleteAccount(id string) error {
	result, err := t.tx.ExecContext(t.ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if err := requireAffected(result, "account %s", id); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM worklogs WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account worklogs: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM issues WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account issues: %w", err)
	}
	t.touch(TableAccounts, TableIssues, TableWorklogs)
	return nil
}

// requireAffected turns a zero-row update into ErrNotFound.
func requireAffected(result sql.Result, format string, args ...any) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return nil
}
