package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/logger"
)

// SplitWorklog cuts a stopped pending worklog at splitAt. The original keeps
// [from, splitAt]; a new pending worklog for newIssueKey gets [splitAt, to]
// and inherits the summary. Both rows are written together or not at all.
func (e *Engine) SplitWorklog(ctx context.Context, oldID int64, newIssueKey string, splitAt time.Time) (*cache.Worklog, error) {
	acct, err := e.activeAccount(ctx)
	if err != nil || acct == nil {
		return nil, err
	}

	var created cache.Worklog
	err = e.cache.Update(ctx, func(tx *cache.Tx) error {
		old, err := tx.GetWorklog(acct.ID, oldID)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("worklog %d: %w", oldID, cache.ErrNotFound)
		}
		if !old.Pending || old.Active {
			return fmt.Errorf("worklog %d: %w", oldID, ErrNotPending)
		}
		if !splitAt.After(old.From) || !splitAt.Before(old.To) {
			return fmt.Errorf("worklog %d [%s, %s] at %s: %w", oldID,
				old.From.Format(time.RFC3339), old.To.Format(time.RFC3339), splitAt.Format(time.RFC3339), ErrInvalidSplit)
		}

		created = cache.Worklog{
			IssueID:   newIssueKey,
			AccountID: acct.ID,
			From:      splitAt,
			To:        old.To,
			Author:    cache.PendingAuthor,
			Summary:   old.Summary,
			Pending:   true,
		}
		old.To = splitAt
		if err := tx.UpdateWorklog(*old); err != nil {
			return err
		}
		id, err := tx.InsertWorklog(created)
		if err != nil {
			return err
		}
		created.WorkID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to split worklog: %w", err)
	}

	logger.Info("sync: worklog split", "work_id", oldID, "new_work_id", created.WorkID, "issue", newIssueKey)
	return &created, nil
}
