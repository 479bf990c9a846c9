// Package jira provides a client for the issue search and worklog endpoints of the Jira REST API.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jira "github.com/andygrunwald/go-jira"
)

// TimeLayout is the timestamp format used for worklog start times.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// DefaultSearchLimit bounds the number of issues returned per query.
const DefaultSearchLimit = 50

// Issue is an issue summary returned by search.
type Issue struct {
	Key     string
	Summary string
}

// Worklog is a worklog as stored on the remote.
type Worklog struct {
	ID               int64
	IssueKey         string
	Author           string
	Comment          string
	HasComment       bool
	Started          time.Time
	TimeSpentSeconds int
}

// Client talks to the instance of whichever account the request context carries.
type Client struct {
	client      *jira.Client
	searchLimit int
}

// New creates a client whose requests time out after timeout.
func New(timeout time.Duration) (*Client, error) {
	return NewWithTransport(http.DefaultTransport, timeout)
}

// NewWithTransport creates a client on top of a custom round tripper (for testing).
func NewWithTransport(base http.RoundTripper, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{
		Transport: &accountTransport{base: base},
		Timeout:   timeout,
	}
	client, err := jira.NewClient(httpClient, placeholderBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}
	return &Client{client: client, searchLimit: DefaultSearchLimit}, nil
}

// SetSearchLimit changes the per-query issue limit.
func (c *Client) SetSearchLimit(n int) {
	if n > 0 {
		c.searchLimit = n
	}
}

// do sends req and decodes a 2xx body into v. Error responses are turned into
// errors carrying the remote's messages.
func (c *Client) do(req *http.Request, v interface{}) error {
	resp, err := c.client.Do(req, v)
	if err != nil {
		if resp != nil {
			return jira.NewJiraError(resp, err)
		}
		return err
	}
	if v == nil && resp != nil {
		resp.Body.Close()
	}
	return nil
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	Fields     []string `json:"fields"`
	MaxResults int      `json:"maxResults"`
}

type issueJSON struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type searchResponse struct {
	Issues []issueJSON `json:"issues"`
}

// SearchIssues runs a JQL query and returns matches in the order the remote ranks them.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	body := searchRequest{
		JQL:        jql,
		Fields:     []string{"id", "summary"},
		MaxResults: c.searchLimit,
	}
	req, err := c.client.NewRequestWithContext(ctx, http.MethodPost, "rest/api/3/search/jql", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result searchResponse
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	issues := make([]Issue, 0, len(result.Issues))
	for _, is := range result.Issues {
		issues = append(issues, Issue{Key: is.Key, Summary: is.Fields.Summary})
	}
	return issues, nil
}

type authorJSON struct {
	DisplayName string `json:"displayName"`
}

type worklogJSON struct {
	ID               string      `json:"id,omitempty"`
	Author           *authorJSON `json:"author,omitempty"`
	Comment          *Node       `json:"comment,omitempty"`
	Started          string      `json:"started"`
	TimeSpentSeconds int         `json:"timeSpentSeconds"`
}

type worklogsResponse struct {
	Worklogs []worklogJSON `json:"worklogs"`
}

func (w worklogJSON) toWorklog(issueKey string) (Worklog, error) {
	id, err := strconv.ParseInt(w.ID, 10, 64)
	if err != nil {
		return Worklog{}, fmt.Errorf("invalid worklog id %q: %w", w.ID, err)
	}
	started, err := time.Parse(TimeLayout, w.Started)
	if err != nil {
		return Worklog{}, fmt.Errorf("invalid worklog start %q: %w", w.Started, err)
	}
	out := Worklog{
		ID:               id,
		IssueKey:         issueKey,
		Started:          started,
		TimeSpentSeconds: w.TimeSpentSeconds,
	}
	if w.Author != nil {
		out.Author = w.Author.DisplayName
	}
	if w.Comment != nil {
		out.Comment = Flatten(*w.Comment)
		out.HasComment = true
	}
	return out, nil
}

// ListWorklogs returns every worklog of an issue.
func (c *Client) ListWorklogs(ctx context.Context, issueKey string) ([]Worklog, error) {
	req, err := c.client.NewRequestWithContext(ctx, http.MethodGet, "rest/api/3/issue/"+url.PathEscape(issueKey)+"/worklog", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result worklogsResponse
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("failed to list worklogs for %s: %w", issueKey, err)
	}

	worklogs := make([]Worklog, 0, len(result.Worklogs))
	for _, w := range result.Worklogs {
		wl, err := w.toWorklog(issueKey)
		if err != nil {
			return nil, err
		}
		worklogs = append(worklogs, wl)
	}
	return worklogs, nil
}

// SubmitWorklog creates a worklog and returns it as stored remotely.
func (c *Client) SubmitWorklog(ctx context.Context, issueKey string, started time.Time, seconds int, comment string) (Worklog, error) {
	doc := Document(comment)
	body := worklogJSON{
		Comment:          &doc,
		Started:          started.UTC().Format(TimeLayout),
		TimeSpentSeconds: seconds,
	}
	req, err := c.client.NewRequestWithContext(ctx, http.MethodPost, "rest/api/3/issue/"+url.PathEscape(issueKey)+"/worklog", body)
	if err != nil {
		return Worklog{}, fmt.Errorf("failed to create request: %w", err)
	}

	var created worklogJSON
	if err := c.do(req, &created); err != nil {
		return Worklog{}, fmt.Errorf("failed to submit worklog for %s: %w", issueKey, err)
	}
	return created.toWorklog(issueKey)
}

// Myself returns the user the context's credentials belong to.
func (c *Client) Myself(ctx context.Context) (*jira.User, error) {
	user, _, err := c.client.User.GetSelfWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return user, nil
}
