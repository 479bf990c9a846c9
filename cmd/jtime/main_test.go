package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/jira"
	"github.com/JohanCodinha/jtime/internal/sync"
)

func TestParseWorkID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWorkID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWorkID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseWorkID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.Local)

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"clock time today", "09:15", time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local), false},
		{"date and time", "2026-02-27 17:00", time.Date(2026, 2, 27, 17, 0, 0, 0, time.Local), false},
		{"rfc3339", "2026-03-01T08:00:00Z", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), false},
		{"relative past", "-15m", now.Add(-15 * time.Minute), false},
		{"relative future", "1h", now.Add(time.Hour), false},
		{"padded", "  09:15 ", time.Date(2026, 3, 2, 9, 15, 0, 0, time.Local), false},
		{"garbage", "yesterday", time.Time{}, true},
		{"empty", "", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWhen(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWhen(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseWhen(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWorklogStatus(t *testing.T) {
	tests := []struct {
		w    cache.Worklog
		want string
	}{
		{cache.Worklog{Active: true, Pending: true}, "running"},
		{cache.Worklog{Pending: true}, "pending"},
		{cache.Worklog{}, "synced"},
	}
	for _, tt := range tests {
		if got := worklogStatus(tt.w); got != tt.want {
			t.Errorf("worklogStatus(%+v) = %q, want %q", tt.w, got, tt.want)
		}
	}
}

func TestPrinter_Formats(t *testing.T) {
	issues := []cache.Issue{{ID: "OPS-1", AccountID: "a", Title: "Rotate keys", Pinned: true}}

	var buf bytes.Buffer
	p := &printer{w: &buf, format: formatJSON}
	require.NoError(t, p.print(issues, nil))
	var fromJSON []cache.Issue
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, issues, fromJSON)

	buf.Reset()
	p.format = formatYAML
	require.NoError(t, p.print(issues, nil))
	assert.Contains(t, buf.String(), "id: OPS-1")
	assert.Contains(t, buf.String(), "pinned: true")

	buf.Reset()
	p.format = formatTable
	require.NoError(t, p.print(issues, func() string { return issuesTable(issues, "") }))
	assert.Contains(t, buf.String(), "OPS-1")
	assert.Contains(t, buf.String(), "Rotate keys")
	assert.Contains(t, buf.String(), "KEY")
}

func TestPrinter_AccountTokenNeverPrinted(t *testing.T) {
	accounts := []cache.Account{{ID: "a", InstanceURL: "https://x", Username: "ada", Token: "super-secret", Active: true}}
	for _, format := range []string{formatTable, formatJSON, formatYAML} {
		var buf bytes.Buffer
		p := &printer{w: &buf, format: format}
		require.NoError(t, p.print(accounts, func() string { return accountsTable(accounts) }))
		assert.NotContains(t, buf.String(), "super-secret", format)
	}
}

// cli runs commands against one config, database and fake Jira.
type cli struct {
	t      *testing.T
	mock   *jira.MockServer
	config string
	db     string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("JTIME_TOKEN", "")
	mock := jira.NewMockServer()
	t.Cleanup(mock.Close)
	dir := t.TempDir()
	return &cli{
		t:      t,
		mock:   mock,
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "jtime.db"),
	}
}

func (c *cli) run(stdin string, args ...string) (code int, stdout, stderr string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", c.config, "--database", c.db}, args...)
	code = run(full, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, out, errOut := c.run("", args...)
	require.Equal(c.t, 0, code, "jtime %v failed: %s", args, errOut)
	return out
}

func (c *cli) login() {
	c.t.Helper()
	c.mustRun("account", "add", c.mock.URL, "ada@example.com", "--token", "secret")
}

func TestCLI_NoAccount(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.run("", "worklog", "start", "OPS-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no active account")
}

func TestCLI_InvalidOutputFormat(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.run("", "-o", "xml", "account", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid output format")
}

func TestCLI_AccountLifecycle(t *testing.T) {
	c := newCLI(t)
	c.mock.RequireAuth("ada@example.com", "secret")

	code, _, errOut := c.run("", "account", "add", c.mock.URL, "ada@example.com", "--token", "wrong")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "verification failed")

	// Token prompted on stdin.
	code, out, errOut := c.run("secret\n", "account", "add", c.mock.URL, "ada@example.com")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "added ada@example.com")
	assert.Contains(t, errOut, "API token: ")

	var accounts []cache.Account
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "account", "list")), &accounts))
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Active)
	assert.Empty(t, accounts[0].Token)

	c.mustRun("account", "logout")
	code, _, _ = c.run("", "status")
	assert.Equal(t, 1, code)

	c.mustRun("account", "use", "ada@example.com")
	c.mustRun("account", "remove", "ada@example.com")
	assert.Contains(t, c.mustRun("account", "list"), "no accounts")
}

func TestCLI_TrackAndSubmit(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.mock.AddIssue("OPS-1", "Rotate keys")
	c.mock.AddIssue("WEB-2", "Fix login")
	c.mock.SetQueryResult(sync.DefaultQueries[0], "WEB-2", "OPS-1")

	assert.Contains(t, c.mustRun("issues", "refresh"), "refreshed 2 issues")

	var issues []cache.Issue
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "issues", "list")), &issues))
	require.Len(t, issues, 2)
	assert.Equal(t, "WEB-2", issues[0].ID)

	assert.Contains(t, c.mustRun("issues", "pin", "OPS-1"), "pinned OPS-1")
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "issues", "list", "--filter", "rotate")), &issues))
	require.Len(t, issues, 1)
	assert.True(t, issues[0].Pinned)

	assert.Contains(t, c.mustRun("worklog", "start", "OPS-1"), "started timer")

	code, _, errOut := c.run("", "worklog", "start", "WEB-2")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already running on OPS-1")

	// Empty stdin captures nothing, so the timer keeps running.
	code, _, errOut = c.run("\n", "worklog", "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "keeps running")

	code, out, errOut := c.run("rotated staging keys\n", "worklog", "stop")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "stopped OPS-1")

	var pending []cache.Worklog
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "worklog", "pending")), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "rotated staging keys", pending[0].Summary)

	c.mustRun("worklog", "submit")
	subs := c.mock.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "OPS-1", subs[0].IssueKey)
	assert.Equal(t, 60, subs[0].TimeSpentSeconds)
	assert.Equal(t, "rotated staging keys", jira.Flatten(subs[0].Comment))

	assert.Contains(t, c.mustRun("worklog", "pending"), "nothing pending")

	var status map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(c.mustRun("-o", "yaml", "status")), &status))
	assert.Equal(t, 0, status["pending"])
	assert.Nil(t, status["running"])

	c.mustRun("worklog", "pull", "OPS-1")
	var worklogs []cache.Worklog
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "worklog", "list", "OPS-1")), &worklogs))
	require.Len(t, worklogs, 1, "pull after submit must not duplicate")
	assert.False(t, worklogs[0].Pending)
}

func TestCLI_SubmitFailureKeepsPending(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.mustRun("worklog", "start", "BAD-1")
	c.mustRun("worklog", "stop", "broken", "build")
	c.mock.FailIssue("BAD-1")

	code, _, errOut := c.run("", "worklog", "submit")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "1 of 1 worklogs failed")
	assert.Contains(t, c.mustRun("worklog", "pending"), "BAD-1")
}

func TestCLI_EditSplitDelete(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.mustRun("worklog", "start", "OPS-1")
	c.mustRun("worklog", "stop", "mixed", "work")

	var pending []cache.Worklog
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "worklog", "pending")), &pending))
	require.Len(t, pending, 1)
	id := pending[0].WorkID

	idArg := strconv.FormatInt(id, 10)
	c.mustRun("worklog", "edit", idArg, "--from=-2h", "--to=-1h", "--summary", "morning")

	var shown []cache.Worklog
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-o", "json", "worklog", "show", idArg)), &shown))
	require.Len(t, shown, 1)
	assert.Equal(t, "morning", shown[0].Summary)
	assert.Equal(t, time.Hour, shown[0].Duration().Round(time.Second))

	code, _, errOut := c.run("", "worklog", "edit", idArg, "--from=-1h", "--to=-2h")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "end is before its start")

	out := c.mustRun("-o", "json", "worklog", "split", "--", idArg, "WEB-2", "-90m")
	var created []cache.Worklog
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Len(t, created, 1)
	assert.Equal(t, "WEB-2", created[0].IssueID)
	assert.Equal(t, "morning", created[0].Summary)

	code, _, errOut = c.run("", "worklog", "split", "--", idArg, "WEB-2", "-3h")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "strictly inside")

	c.mustRun("worklog", "delete", idArg)
	code, _, errOut = c.run("", "worklog", "delete", idArg)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	code, _, errOut = c.run("", "worklog", "show", idArg)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")
}

