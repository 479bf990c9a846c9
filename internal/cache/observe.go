package cache

import (
	"context"
	"reflect"
	"time"

	"github.com/JohanCodinha/jtime/internal/logger"
)

// observe streams query results: once immediately, then after every commit
// touching one of tables that changes the result. If the consumer is slow,
// intermediate states are dropped and the latest state is delivered. The
// channel closes when ctx is done or the database is closed.
func observe[T any](ctx context.Context, db *DB, query func(context.Context) (T, error), tables ...Table) <-chan T {
	out := make(chan T)
	notify, cancel := db.broker.subscribe(tables...)

	go func() {
		defer close(out)
		defer cancel()

		var (
			last T
			sent bool
		)
		for {
			v, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("cache: observer query failed", "tables", tables, "error", err)
			} else if !sent || !reflect.DeepEqual(v, last) {
				select {
				case out <- v:
					last, sent = v, true
				case <-ctx.Done():
					return
				case _, ok := <-notify:
					if !ok {
						return
					}
					continue
				}
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
			}
		}
	}()

	return out
}

// ObserveAccounts streams the account list.
func (db *DB) ObserveAccounts(ctx context.Context) <-chan []Account {
	return observe(ctx, db, db.ListAccounts, TableAccounts)
}

// ObserveActiveAccount streams the active account; nil means logged out.
func (db *DB) ObserveActiveAccount(ctx context.Context) <-chan *Account {
	return observe(ctx, db, db.ActiveAccount, TableAccounts)
}

// ObserveIssues streams the account's ordered issue list.
func (db *DB) ObserveIssues(ctx context.Context, accountID string, limit int) <-chan []Issue {
	return observe(ctx, db, func(ctx context.Context) ([]Issue, error) {
		return db.ListIssues(ctx, accountID, limit)
	}, TableIssues)
}

// ObserveIssue streams one issue; nil when it does not exist.
func (db *DB) ObserveIssue(ctx context.Context, accountID, id string) <-chan *Issue {
	return observe(ctx, db, func(ctx context.Context) (*Issue, error) {
		return db.FindIssue(ctx, accountID, id)
	}, TableIssues)
}

// ObserveWorklog streams one worklog; nil when it does not exist.
func (db *DB) ObserveWorklog(ctx context.Context, accountID string, id int64) <-chan *Worklog {
	return observe(ctx, db, func(ctx context.Context) (*Worklog, error) {
		return db.GetWorklog(ctx, accountID, id)
	}, TableWorklogs)
}

// ObserveWorklogsForIssue streams the newest worklogs of an issue.
func (db *DB) ObserveWorklogsForIssue(ctx context.Context, accountID, issueID string, limit int) <-chan []Worklog {
	return observe(ctx, db, func(ctx context.Context) ([]Worklog, error) {
		return db.WorklogsForIssue(ctx, accountID, issueID, limit)
	}, TableWorklogs)
}

// ObserveActiveWorklog streams the running timer with its issue.
func (db *DB) ObserveActiveWorklog(ctx context.Context, accountID string) <-chan *ActiveWorklog {
	return observe(ctx, db, func(ctx context.Context) (*ActiveWorklog, error) {
		return db.ActiveWorklog(ctx, accountID)
	}, TableWorklogs, TableIssues)
}

// ObservePendingWorklogs streams stopped worklogs awaiting submission.
func (db *DB) ObservePendingWorklogs(ctx context.Context, accountID string) <-chan []Worklog {
	return observe(ctx, db, func(ctx context.Context) ([]Worklog, error) {
		return db.PendingWorklogs(ctx, accountID)
	}, TableWorklogs)
}

// ObserveWorklogsInWindow streams worklogs touching [start, end].
func (db *DB) ObserveWorklogsInWindow(ctx context.Context, accountID string, start, end time.Time) <-chan []Worklog {
	return observe(ctx, db, func(ctx context.Context) ([]Worklog, error) {
		return db.WorklogsInWindow(ctx, accountID, start, end)
	}, TableWorklogs)
}
