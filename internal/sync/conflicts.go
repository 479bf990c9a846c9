package sync

import (
	"time"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/logger"
)

// reconcile links stopped local worklogs that never learned their remote id
// to the matching remote worklog, so the following upsert updates them in
// place instead of inserting a duplicate. This covers submissions whose
// response was lost: the row stayed pending although the remote created it.
// A local row matches a remote one with the same start (millisecond
// precision) and the same billed seconds. Remote ids already linked to a
// local row are skipped. Returns the number of rows linked.
func reconcile(tx *cache.Tx, accountID, issueKey string, remote []cache.Worklog) (int, error) {
	unlinked, err := tx.UnlinkedWorklogs(accountID, issueKey)
	if err != nil || len(unlinked) == 0 {
		return 0, err
	}

	claimed := make(map[int64]bool)
	for _, r := range remote {
		known, err := tx.HasRemoteWorklog(accountID, r.RemoteID)
		if err != nil {
			return 0, err
		}
		claimed[r.RemoteID] = known
	}

	linked := 0
	for _, local := range unlinked {
		for _, r := range remote {
			if claimed[r.RemoteID] || !sameSubmission(local, r) {
				continue
			}
			claimed[r.RemoteID] = true
			local.RemoteID = r.RemoteID
			local.Pending = false
			if err := tx.UpdateWorklog(local); err != nil {
				return linked, err
			}
			linked++
			logger.Debug("sync: linked local worklog to remote", "work_id", local.WorkID, "remote_id", r.RemoteID)
			break
		}
	}
	return linked, nil
}

// sameSubmission reports whether remote is what submitting local would have produced.
func sameSubmission(local, remote cache.Worklog) bool {
	if !local.From.Truncate(time.Millisecond).Equal(remote.From.Truncate(time.Millisecond)) {
		return false
	}
	return submitSeconds(local) == int(remote.To.Sub(remote.From)/time.Second)
}
