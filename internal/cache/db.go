// Package cache provides the SQLite-backed local store for accounts, issues and worklogs.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// schemaVersion is bumped whenever the table layout changes. Older local
// databases are dropped and recreated; pending worklogs are lost on upgrade.
const schemaVersion = 3

// DB represents a SQLite database connection for the local work-record store.
type DB struct {
	conn   *sql.DB
	broker *broker
}

const createAccountsTableSQL = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    instance_url TEXT NOT NULL,
    username TEXT NOT NULL,
    token TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0
);
`

const createIssuesTableSQL = `
CREATE TABLE IF NOT EXISTS issues (
    id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    title TEXT NOT NULL,
    pinned INTEGER NOT NULL DEFAULT 0,
    sort INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (id, account_id)
);
`

const createWorklogsTableSQL = `
CREATE TABLE IF NOT EXISTS worklogs (
    work_id INTEGER PRIMARY KEY AUTOINCREMENT,
    remote_id INTEGER,
    issue_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    author TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    pending INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 0,
    UNIQUE(account_id, remote_id)
);
CREATE INDEX IF NOT EXISTS worklogs_account_pending ON worklogs(account_id, pending);
CREATE INDEX IF NOT EXISTS worklogs_account_issue ON worklogs(account_id, issue_id);
`

// InitDB creates or opens a SQLite database at the given path and initializes the schema.
func InitDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer. One connection also serialises
	// readers behind open transactions, so nobody observes a half-applied write.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{
		conn:   conn,
		broker: newBroker(),
	}, nil
}

// migrate brings the schema to schemaVersion. Migrations are destructive.
func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version != 0 && version != schemaVersion {
		for _, table := range []string{"worklogs", "issues", "accounts"} {
			if _, err := conn.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("failed to drop %s table: %w", table, err)
			}
		}
	}

	for name, stmt := range map[string]string{
		"accounts": createAccountsTableSQL,
		"issues":   createIssuesTableSQL,
		"worklogs": createWorklogsTableSQL,
	} {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
	}

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Close closes the database connection and ends all observers.
func (db *DB) Close() error {
	db.broker.close()
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Tx is a write scope. All statements issued through a Tx commit together;
// observers are notified once, after the commit.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	touched map[Table]bool
}

func (t *Tx) touch(tables ...Table) {
	for _, table := range tables {
		t.touched[table] = true
	}
}

// Update runs fn inside a transaction. If fn returns an error the transaction
// is rolled back and no observer sees any of its writes.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	// The write must complete atomically even if the caller's context is
	// cancelled mid-flight, so the transaction is detached from cancellation.
	ctx = context.WithoutCancel(ctx)

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{ctx: ctx, tx: sqlTx, touched: make(map[Table]bool)}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tables := make([]Table, 0, len(tx.touched))
	for table := range tx.touched {
		tables = append(tables, table)
	}
	db.broker.publish(tables...)
	return nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement.
type scanner interface {
	Scan(dest ...interface{}) error
}

// queryer is implemented by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
