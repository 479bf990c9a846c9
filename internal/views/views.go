// Package views derives presentation state from the local store. Every
// stream follows the active account: when it changes, the stream switches to
// the new account's data and emits the zero value while nobody is logged in.
package views

import (
	"context"
	"strings"
	"time"

	"github.com/JohanCodinha/jtime/internal/cache"
)

// followActive re-opens a per-account stream whenever the active account
// changes. A switch that is already pending wins over a value of the previous
// account, so that value is dropped instead of forwarded.
func followActive[T any](ctx context.Context, db *cache.DB, open func(ctx context.Context, accountID string) <-chan T) <-chan T {
	out := make(chan T)

	go func() {
		defer close(out)

		accounts := db.ObserveActiveAccount(ctx)
		var (
			inner       <-chan T
			cancelInner context.CancelFunc = func() {}
			current     string
			started     bool
		)
		defer func() { cancelInner() }()

		send := func(v T) bool {
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// follow switches to acct and reports whether the loop should go on.
		follow := func(acct *cache.Account) bool {
			id := ""
			if acct != nil {
				id = acct.ID
			}
			if started && id == current {
				return true
			}
			started = true
			current = id

			cancelInner()
			cancelInner = func() {}
			inner = nil
			if acct == nil {
				var zero T
				return send(zero)
			}
			innerCtx, cancel := context.WithCancel(ctx)
			cancelInner = cancel
			inner = open(innerCtx, id)
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return

			case acct, ok := <-accounts:
				if !ok || !follow(acct) {
					return
				}

			case v, ok := <-inner:
				if !ok {
					inner = nil
					continue
				}
				select {
				case acct, ok := <-accounts:
					prev := current
					if !ok || !follow(acct) {
						return
					}
					if current != prev {
						continue
					}
				default:
				}
				if !send(v) {
					return
				}
			}
		}
	}()

	return out
}

// Accounts streams every account, active first.
func Accounts(ctx context.Context, db *cache.DB) <-chan []cache.Account {
	return db.ObserveAccounts(ctx)
}

// ActiveAccount streams the active account, nil while logged out.
func ActiveAccount(ctx context.Context, db *cache.DB) <-chan *cache.Account {
	return db.ObserveActiveAccount(ctx)
}

// Issues streams the active account's issues, pinned first then by sort order.
func Issues(ctx context.Context, db *cache.DB, limit int) <-chan []cache.Issue {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan []cache.Issue {
		return db.ObserveIssues(ctx, id, limit)
	})
}

// FilteredIssues streams the active account's issues matching term.
func FilteredIssues(ctx context.Context, db *cache.DB, limit int, term string) <-chan []cache.Issue {
	in := Issues(ctx, db, limit)
	out := make(chan []cache.Issue)
	go func() {
		defer close(out)
		for issues := range in {
			select {
			case out <- FilterIssues(issues, term):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Issue streams one issue of the active account, nil when it does not exist.
func Issue(ctx context.Context, db *cache.DB, issueID string) <-chan *cache.Issue {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan *cache.Issue {
		return db.ObserveIssue(ctx, id, issueID)
	})
}

// Worklog streams one worklog of the active account.
func Worklog(ctx context.Context, db *cache.DB, workID int64) <-chan *cache.Worklog {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan *cache.Worklog {
		return db.ObserveWorklog(ctx, id, workID)
	})
}

// WorklogsForIssue streams the newest worklogs of an issue.
func WorklogsForIssue(ctx context.Context, db *cache.DB, issueID string, limit int) <-chan []cache.Worklog {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan []cache.Worklog {
		return db.ObserveWorklogsForIssue(ctx, id, issueID, limit)
	})
}

// ActiveWorklog streams the running timer, nil when none runs.
func ActiveWorklog(ctx context.Context, db *cache.DB) <-chan *cache.ActiveWorklog {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan *cache.ActiveWorklog {
		return db.ObserveActiveWorklog(ctx, id)
	})
}

// PendingWorklogs streams stopped worklogs awaiting submission.
func PendingWorklogs(ctx context.Context, db *cache.DB) <-chan []cache.Worklog {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan []cache.Worklog {
		return db.ObservePendingWorklogs(ctx, id)
	})
}

// WorklogsInWindow streams worklogs starting or ending in [start, end].
func WorklogsInWindow(ctx context.Context, db *cache.DB, start, end time.Time) <-chan []cache.Worklog {
	return followActive(ctx, db, func(ctx context.Context, id string) <-chan []cache.Worklog {
		return db.ObserveWorklogsInWindow(ctx, id, start, end)
	})
}

// Today streams the worklogs of the local calendar day containing now.
func Today(ctx context.Context, db *cache.DB, now time.Time) <-chan []cache.Worklog {
	start, end := DayWindow(now)
	return WorklogsInWindow(ctx, db, start, end)
}

// DayWindow returns local midnight of t's day and the instant 24 hours later.
func DayWindow(t time.Time) (time.Time, time.Time) {
	local := t.Local()
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	return start, start.Add(24 * time.Hour)
}

// FilterIssues keeps issues whose key or title contains term, ignoring case.
// An empty term keeps everything.
func FilterIssues(issues []cache.Issue, term string) []cache.Issue {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return issues
	}
	filtered := make([]cache.Issue, 0, len(issues))
	for _, is := range issues {
		if strings.Contains(strings.ToLower(is.ID), term) || strings.Contains(strings.ToLower(is.Title), term) {
			filtered = append(filtered, is)
		}
	}
	return filtered
}

// TotalDuration sums the durations of worklogs.
func TotalDuration(worklogs []cache.Worklog) time.Duration {
	var total time.Duration
	for _, w := range worklogs {
		total += w.Duration()
	}
	return total
}
