// Package sync provides the synchronization engine between the local store and the remote tracker.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/capture"
	"github.com/JohanCodinha/jtime/internal/jira"
	"github.com/JohanCodinha/jtime/internal/logger"
)

// DefaultQueries are the issue searches run on refresh. Their concatenated
// results define the issue sort order.
var DefaultQueries = []string{
	"issuekey in issueHistory() ORDER BY lastViewed DESC",
	"worklogAuthor=currentUser() ORDER BY lastViewed DESC",
	"assignee=currentUser() ORDER BY lastViewed DESC",
}

// MinimumBillable is the shortest duration the remote accepts.
const MinimumBillable = 60 * time.Second

// NoComment is the summary given to remote worklogs without a comment.
const NoComment = "No comment"

var (
	// ErrInvalidSplit is returned when the split instant is outside the worklog.
	ErrInvalidSplit = errors.New("split time must fall strictly inside the worklog")
	// ErrNotPending is returned when an operation needs a stopped, unsubmitted worklog.
	ErrNotPending = errors.New("worklog is not a stopped pending entry")
	// ErrInvalidRange is returned when a worklog would end before it starts.
	ErrInvalidRange = errors.New("worklog end is before its start")
)

// Remote is the subset of the tracker API the engine needs.
type Remote interface {
	SearchIssues(ctx context.Context, jql string) ([]jira.Issue, error)
	ListWorklogs(ctx context.Context, issueKey string) ([]jira.Worklog, error)
	SubmitWorklog(ctx context.Context, issueKey string, started time.Time, seconds int, comment string) (jira.Worklog, error)
}

// Options tune an Engine. Zero values select defaults.
type Options struct {
	Queries     []string
	Concurrency int
	Now         func() time.Time
}

// Engine is the only writer of issues and worklogs. Every operation acts on
// the active account and is a no-op when nobody is logged in.
type Engine struct {
	cache       *cache.DB
	remote      Remote
	queries     []string
	concurrency int
	now         func() time.Time
}

// NewEngine creates a new sync engine.
func NewEngine(cacheDB *cache.DB, remote Remote, opts Options) *Engine {
	e := &Engine{
		cache:       cacheDB,
		remote:      remote,
		queries:     opts.Queries,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
	if len(e.queries) == 0 {
		e.queries = DefaultQueries
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// activeAccount returns nil without error when nobody is logged in.
func (e *Engine) activeAccount(ctx context.Context) (*cache.Account, error) {
	acct, err := e.cache.ActiveAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active account: %w", err)
	}
	if acct == nil {
		logger.Debug("sync: no active account, skipping")
	}
	return acct, nil
}

func remoteContext(ctx context.Context, acct *cache.Account) context.Context {
	return jira.WithAccount(ctx, jira.Credentials{
		InstanceURL: acct.InstanceURL,
		Username:    acct.Username,
		Token:       acct.Token,
	})
}

// RefreshResult summarises an issue refresh.
type RefreshResult struct {
	Issues        int
	FailedQueries []string
}

// RefreshIssues runs every search query concurrently and merges the results.
// A failed query counts as empty. Issues present in the results are ranked in
// result order; the rest keep their pin and title and sink to SortSentinel.
func (e *Engine) RefreshIssues(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return res, err
	}
	rctx := remoteContext(ctx, acct)

	results := make([][]jira.Issue, len(e.queries))
	failed := make([]bool, len(e.queries))

	// Branch errors are recorded, never returned, so one query cannot cancel another.
	var g errgroup.Group
	for i, q := range e.queries {
		i, q := i, q
		g.Go(func() error {
			issues, err := e.remote.SearchIssues(rctx, q)
			if err != nil {
				logger.Warn("sync: issue query failed", "account", acct.ID, "jql", q, "error", err)
				failed[i] = true
				return nil
			}
			results[i] = issues
			return nil
		})
	}
	g.Wait()

	for i, f := range failed {
		if f {
			res.FailedQueries = append(res.FailedQueries, e.queries[i])
		}
	}
	if len(res.FailedQueries) == len(e.queries) {
		logger.Warn("sync: every issue query failed, keeping local order", "account", acct.ID)
		return res, nil
	}

	var merged []cache.Issue
	seen := make(map[string]bool)
	for _, batch := range results {
		for _, is := range batch {
			if seen[is.Key] {
				continue
			}
			seen[is.Key] = true
			merged = append(merged, cache.Issue{ID: is.Key, AccountID: acct.ID, Title: is.Summary})
		}
	}

	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		if err := tx.ResetSortOrder(acct.ID); err != nil {
			return err
		}
		if err := tx.MergeIssues(acct.ID, merged); err != nil {
			return err
		}
		for i, issue := range merged {
			if err := tx.SetSortOrder(acct.ID, issue.ID, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to store issues: %w", err)
	}

	res.Issues = len(merged)
	logger.Debug("sync: refreshed issues", "account", acct.ID, "count", len(merged), "failed_queries", len(res.FailedQueries))
	return res, nil
}

// PullResult summarises a worklog pull for one issue.
type PullResult struct {
	Fetched int
	Linked  int
	Failed  bool
}

// RefreshWorklogsFor stores the remote worklogs of one issue as synced rows.
// Remote failures are logged and leave local state unchanged.
func (e *Engine) RefreshWorklogsFor(ctx context.Context, issueKey string) (PullResult, error) {
	var res PullResult
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return res, err
	}

	remote, err := e.remote.ListWorklogs(remoteContext(ctx, acct), issueKey)
	if err != nil {
		logger.Warn("sync: failed to list worklogs", "account", acct.ID, "issue", issueKey, "error", err)
		res.Failed = true
		return res, nil
	}

	rows := make([]cache.Worklog, 0, len(remote))
	for _, rw := range remote {
		rows = append(rows, fromRemote(acct.ID, rw))
	}

	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		linked, err := reconcile(tx, acct.ID, issueKey, rows)
		if err != nil {
			return err
		}
		res.Linked = linked
		return tx.UpsertRemoteWorklogs(acct.ID, rows)
	})
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to store worklogs: %w", err)
	}

	res.Fetched = len(rows)
	logger.Debug("sync: pulled worklogs", "issue", issueKey, "count", res.Fetched, "linked", res.Linked)
	return res, nil
}

func fromRemote(accountID string, rw jira.Worklog) cache.Worklog {
	summary := rw.Comment
	if !rw.HasComment || summary == "" {
		summary = NoComment
	}
	from := rw.Started.UTC()
	return cache.Worklog{
		RemoteID:  rw.ID,
		IssueID:   rw.IssueKey,
		AccountID: accountID,
		From:      from,
		To:        from.Add(time.Duration(rw.TimeSpentSeconds) * time.Second),
		Author:    rw.Author,
		Summary:   summary,
	}
}

// StartTimer creates the running worklog for issueKey. The engine does not
// check for an existing timer; callers gate on ActiveWorklog first.
func (e *Engine) StartTimer(ctx context.Context, issueKey string) (*cache.Worklog, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}

	now := e.now()
	w := cache.Worklog{
		IssueID:   issueKey,
		AccountID: acct.ID,
		From:      now,
		To:        now,
		Author:    cache.PendingAuthor,
		Pending:   true,
		Active:    true,
	}
	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		id, err := tx.InsertWorklog(w)
		w.WorkID = id
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start timer: %w", err)
	}

	logger.Info("sync: timer started", "issue", issueKey, "work_id", w.WorkID)
	return &w, nil
}

// ActiveWorklog returns the running timer of the active account, or nil.
func (e *Engine) ActiveWorklog(ctx context.Context) (*cache.ActiveWorklog, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}
	return e.cache.ActiveWorklog(ctx, acct.ID)
}

// StopTimer ends the running timer with summary. It returns nil when no timer runs.
func (e *Engine) StopTimer(ctx context.Context, summary string) (*cache.Worklog, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}

	var stopped *cache.Worklog
	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		w, err := tx.ActiveWorklog(acct.ID)
		if err != nil || w == nil {
			return err
		}
		w.Active = false
		w.To = e.now()
		w.Summary = summary
		if err := tx.UpdateWorklog(*w); err != nil {
			return err
		}
		stopped = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stop timer: %w", err)
	}

	if stopped != nil {
		logger.Info("sync: timer stopped", "issue", stopped.IssueID, "work_id", stopped.WorkID, "duration", stopped.Duration())
	}
	return stopped, nil
}

// StopTimerFromCapture stops the running timer with text captured from src.
// The timer keeps running if capture fails.
func (e *Engine) StopTimerFromCapture(ctx context.Context, src capture.Source) (*cache.Worklog, error) {
	summary, err := src.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture summary: %w", err)
	}
	return e.StopTimer(ctx, summary)
}

// DeleteWorklog removes a worklog of the active account.
func (e *Engine) DeleteWorklog(ctx context.Context, id int64) error {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return err
	}
	if err := e.cache.Update(ctx, func(tx *cache.Tx) error {
		return tx.DeleteWorklog(acct.ID, id)
	}); err != nil {
		return fmt.Errorf("failed to delete worklog: %w", err)
	}
	logger.Info("sync: worklog deleted", "work_id", id)
	return nil
}

// UpdateWorklog overwrites the interval and summary of a worklog.
func (e *Engine) UpdateWorklog(ctx context.Context, id int64, from, to time.Time, summary string) (*cache.Worklog, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}

	var updated *cache.Worklog
	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		w, err := tx.GetWorklog(acct.ID, id)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("worklog %d: %w", id, cache.ErrNotFound)
		}
		w.From = from
		w.To = to
		w.Summary = summary
		updated = w
		return tx.UpdateWorklog(*w)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update worklog: %w", err)
	}
	return updated, nil
}

// submitSeconds truncates the duration to whole seconds and clamps it to
// MinimumBillable.
func submitSeconds(w cache.Worklog) int {
	secs := int(w.To.Sub(w.From) / time.Second)
	return max(secs, int(MinimumBillable/time.Second))
}

// PostPendingWorklogs submits every stopped pending worklog concurrently.
// Each submission succeeds or fails on its own; failed rows stay pending.
// Accepted rows are marked submitted in one transaction and the post-attempt
// state of every row is returned.
func (e *Engine) PostPendingWorklogs(ctx context.Context) ([]cache.Worklog, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}

	pending, err := e.cache.PendingWorklogs(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending worklogs: %w", err)
	}
	if len(pending) == 0 {
		logger.Debug("sync: no pending worklogs to submit")
		return pending, nil
	}

	rctx := remoteContext(ctx, acct)
	results := make([]cache.Worklog, len(pending))
	copy(results, pending)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, w := range pending {
		i, w := i, w
		g.Go(func() error {
			created, err := e.remote.SubmitWorklog(rctx, w.IssueID, w.From, submitSeconds(w), w.Summary)
			if err != nil {
				logger.Warn("sync: failed to submit worklog", "work_id", w.WorkID, "issue", w.IssueID, "error", err)
				return nil
			}
			results[i].Pending = false
			results[i].RemoteID = created.ID
			if created.Author != "" {
				results[i].Author = created.Author
			}
			return nil
		})
	}
	g.Wait()

	var accepted []cache.Worklog
	for _, w := range results {
		if !w.Pending {
			accepted = append(accepted, w)
		}
	}
	var stale []int64
	if len(accepted) > 0 {
		err = e.cache.Update(ctx, func(tx *cache.Tx) error {
			var terr error
			stale, terr = tx.MarkSubmitted(accepted)
			return terr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store submission results: %w", err)
		}
	}

	// Rows edited, split or deleted while in flight keep their local state.
	// The remote copy shows up as a separate worklog on the next pull.
	for _, id := range stale {
		for i := range results {
			if results[i].WorkID != id {
				continue
			}
			logger.Warn("sync: worklog changed locally during submission", "work_id", id, "remote_id", results[i].RemoteID)
			results[i] = pending[i]
		}
	}

	submitted := 0
	for _, w := range results {
		if !w.Pending {
			submitted++
		}
	}
	logger.Info("sync: submitted pending worklogs", "submitted", submitted, "failed", len(results)-submitted)
	return results, nil
}

// ToggleIssuePin flips the pin of the active account's copy of an issue.
func (e *Engine) ToggleIssuePin(ctx context.Context, issueKey string) (bool, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return false, err
	}
	var pinned bool
	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		var terr error
		pinned, terr = tx.TogglePin(acct.ID, issueKey)
		return terr
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle pin: %w", err)
	}
	return pinned, nil
}
