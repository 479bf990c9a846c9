package views

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohanCodinha/jtime/internal/cache"
)

func setupDB(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUpdate(t *testing.T, db *cache.DB, fn func(tx *cache.Tx) error) {
	t.Helper()
	require.NoError(t, db.Update(context.Background(), fn))
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream")
	}
	var zero T
	return zero
}

// recvUntil receives until match returns true.
func recvUntil[T any](t *testing.T, ch <-chan T, match func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "stream closed unexpectedly")
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching value")
		}
	}
}

// expectQuiet fails if the stream emits within a short grace period.
func expectQuiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected emission: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func seedTwoAccounts(t *testing.T, db *cache.DB) {
	mustUpdate(t, db, func(tx *cache.Tx) error {
		if err := tx.InsertAccount(cache.Account{ID: "a", InstanceURL: "https://a.example", Username: "ada", Active: true}); err != nil {
			return err
		}
		if err := tx.InsertAccount(cache.Account{ID: "b", InstanceURL: "https://b.example", Username: "bob"}); err != nil {
			return err
		}
		if err := tx.UpsertIssues("a", []cache.Issue{{ID: "A-1", Title: "alpha"}}); err != nil {
			return err
		}
		return tx.UpsertIssues("b", []cache.Issue{{ID: "B-1", Title: "beta"}, {ID: "B-2", Title: "gamma"}})
	})
}

func ids(issues []cache.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.ID
	}
	return out
}

func TestIssues_FollowsActiveAccount(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issues := Issues(ctx, db, 50)
	assert.Equal(t, []string{"A-1"}, ids(recv(t, issues)))

	mustUpdate(t, db, func(tx *cache.Tx) error { return tx.SelectAccount("b") })
	assert.Equal(t, []string{"B-1", "B-2"}, ids(recv(t, issues)))

	// Writes to the inactive account are not visible.
	mustUpdate(t, db, func(tx *cache.Tx) error {
		return tx.UpsertIssues("a", []cache.Issue{{ID: "A-2", Title: "hidden"}})
	})
	expectQuiet(t, issues)

	mustUpdate(t, db, func(tx *cache.Tx) error {
		return tx.UpsertIssues("b", []cache.Issue{{ID: "B-3", Title: "delta", Sort: 5}})
	})
	assert.Equal(t, []string{"B-1", "B-2", "B-3"}, ids(recv(t, issues)))

	mustUpdate(t, db, func(tx *cache.Tx) error { return tx.ClearActiveAccounts() })
	assert.Nil(t, recv(t, issues))
	expectQuiet(t, issues)
}

func TestIssues_NeverForwardsPreviousAccountAfterSwitch(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)
	mustUpdate(t, db, func(tx *cache.Tx) error { return tx.SelectAccount("b") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issues := Issues(ctx, db, 50)
	assert.Equal(t, []string{"B-1", "B-2"}, ids(recv(t, issues)))

	for i := 0; i < 20; i++ {
		// Leave a fresh value of b waiting, then log out in the same breath.
		mustUpdate(t, db, func(tx *cache.Tx) error {
			return tx.UpsertIssues("b", []cache.Issue{{ID: fmt.Sprintf("B-%d", 10+i), Title: "more", Sort: 10 + i}})
		})
		mustUpdate(t, db, func(tx *cache.Tx) error { return tx.ClearActiveAccounts() })

		got := recvUntil(t, issues, func(v []cache.Issue) bool { return v == nil })
		assert.Nil(t, got)
		expectQuiet(t, issues)

		mustUpdate(t, db, func(tx *cache.Tx) error { return tx.SelectAccount("b") })
		require.NotEmpty(t, recv(t, issues))
	}
}

func TestIssues_ClosesOnCancel(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	issues := Issues(ctx, db, 50)
	recv(t, issues)
	cancel()

	select {
	case _, ok := <-issues:
		for ok {
			_, ok = <-issues
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func TestFilteredIssues(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)
	mustUpdate(t, db, func(tx *cache.Tx) error { return tx.SelectAccount("b") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := recv(t, FilteredIssues(ctx, db, 50, "GAM"))
	assert.Equal(t, []string{"B-2"}, ids(got))
}

func TestFilterIssues(t *testing.T) {
	issues := []cache.Issue{
		{ID: "OPS-12", Title: "Rotate certificates"},
		{ID: "WEB-3", Title: "Fix login redirect"},
		{ID: "WEB-30", Title: "Ops dashboard"},
	}
	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"OPS-12", "WEB-3", "WEB-30"}},
		{"  ", []string{"OPS-12", "WEB-3", "WEB-30"}},
		{"ops", []string{"OPS-12", "WEB-30"}},
		{"web-3", []string{"WEB-3", "WEB-30"}},
		{"LOGIN", []string{"WEB-3"}},
		{"nothing", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FilterIssues(issues, tt.term)))
		})
	}
}

func TestDayWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 4, 5, 0, time.Local)
	start, end := DayWindow(now)

	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 0, start.Minute())
	assert.Equal(t, 2, start.Day())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.False(t, now.Before(start))
	assert.True(t, now.Before(end))
}

func TestToday_MatchesStartOrEnd(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	start, _ := DayWindow(now)
	mustUpdate(t, db, func(tx *cache.Tx) error {
		rows := []cache.Worklog{
			{IssueID: "A-1", AccountID: "a", From: start.Add(-time.Hour), To: start.Add(time.Hour), Summary: "overnight"},
			{IssueID: "A-1", AccountID: "a", From: start.Add(9 * time.Hour), To: start.Add(10 * time.Hour), Summary: "today"},
			{IssueID: "A-1", AccountID: "a", From: start.Add(-5 * time.Hour), To: start.Add(-4 * time.Hour), Summary: "yesterday"},
			{IssueID: "B-1", AccountID: "b", From: start.Add(9 * time.Hour), To: start.Add(10 * time.Hour), Summary: "other account"},
		}
		for _, w := range rows {
			if _, err := tx.InsertWorklog(w); err != nil {
				return err
			}
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := recv(t, Today(ctx, db, now))
	require.Len(t, got, 2)
	assert.Equal(t, "overnight", got[0].Summary)
	assert.Equal(t, "today", got[1].Summary)
	assert.Equal(t, 3*time.Hour, TotalDuration(got))
}

func TestLiveTimer(t *testing.T) {
	db := setupDB(t)
	seedTwoAccounts(t, db)

	from := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var id int64
	mustUpdate(t, db, func(tx *cache.Tx) error {
		var err error
		id, err = tx.InsertWorklog(cache.Worklog{
			IssueID: "A-1", AccountID: "a", From: from, To: from,
			Author: cache.PendingAuthor, Pending: true, Active: true,
		})
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := func() time.Time { return from.Add(90 * time.Second) }
	states := LiveTimer(ctx, db, 10*time.Millisecond, now)

	first := recv(t, states)
	require.NotNil(t, first.Running)
	assert.Equal(t, "alpha", first.Running.Issue.Title)
	assert.Equal(t, 90*time.Second, first.Elapsed)

	// Ticks keep emitting while the timer runs.
	tick := recv(t, states)
	require.NotNil(t, tick.Running)

	stored, err := db.GetWorklog(context.Background(), "a", id)
	require.NoError(t, err)
	assert.True(t, stored.From.Equal(stored.To), "elapsed time is never persisted")

	mustUpdate(t, db, func(tx *cache.Tx) error {
		stored.Active = false
		stored.To = now()
		return tx.UpdateWorklog(*stored)
	})
	stopped := recvUntil(t, states, func(s TimerState) bool { return s.Running == nil })
	assert.Zero(t, stopped.Elapsed)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0s"},
		{3 * time.Second, "3s"},
		{time.Minute, "1m"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{time.Hour + 3*time.Second, "1h 3s"},
		{26 * time.Hour, "26h"},
		{-90 * time.Second, "-1m 30s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}
