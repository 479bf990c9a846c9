package jira

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Submission records one worklog creation received by MockServer.
type Submission struct {
	IssueKey         string
	Started          string
	TimeSpentSeconds int
	Comment          Node
}

// MockServer provides a fake Jira API for testing
type MockServer struct {
	*httptest.Server
	mu          sync.RWMutex
	username    string
	token       string
	issues      map[string]string   // key -> summary
	queries     map[string][]string // jql -> ordered keys
	failQueries map[string]bool
	failIssues  map[string]bool
	worklogs    map[string][]worklogJSON
	submissions []Submission
	nextID      int64
	delay       time.Duration
}

// NewMockServer creates a mock Jira API server accepting any credentials.
func NewMockServer() *MockServer {
	m := &MockServer{
		issues:      make(map[string]string),
		queries:     make(map[string][]string),
		failQueries: make(map[string]bool),
		failIssues:  make(map[string]bool),
		worklogs:    make(map[string][]worklogJSON),
		nextID:      10000,
	}

	mux := http.NewServeMux()

	// Search: POST /rest/api/3/search/jql
	mux.HandleFunc("/rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		m.handleSearch(w, r)
	})

	// Worklogs: GET|POST /rest/api/3/issue/{key}/worklog
	mux.HandleFunc("/rest/api/3/issue/", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/rest/api/3/issue/"), "/")
		if len(parts) != 2 || parts[1] != "worklog" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			m.handleListWorklogs(w, r, parts[0])
		case http.MethodPost:
			m.handleCreateWorklog(w, r, parts[0])
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Current user: GET /rest/api/2/myself
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(w, r) {
			return
		}
		user, _, _ := r.BasicAuth()
		writeJSON(w, http.StatusOK, map[string]string{
			"accountId":    "mock-" + user,
			"emailAddress": user,
			"displayName":  user,
		})
	})

	m.Server = httptest.NewServer(mux)
	return m
}

// RequireAuth makes the server reject every other username/token pair.
func (m *MockServer) RequireAuth(username, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username = username
	m.token = token
}

// AddIssue adds an issue to the mock server
func (m *MockServer) AddIssue(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[key] = summary
}

// SetQueryResult defines which issue keys a JQL query returns, in order.
func (m *MockServer) SetQueryResult(jql string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[jql] = keys
}

// FailQuery makes a JQL query answer with a server error.
func (m *MockServer) FailQuery(jql string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failQueries[jql] = true
}

// FailIssue makes worklog reads and writes on an issue answer with a server error.
func (m *MockServer) FailIssue(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIssues[key] = true
}

// SetDelay slows every response down.
func (m *MockServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// AddWorklog stores a worklog as if someone had logged it remotely and returns its id.
func (m *MockServer) AddWorklog(issueKey, author, comment string, started time.Time, seconds int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	wl := worklogJSON{
		ID:               strconv.FormatInt(m.nextID, 10),
		Started:          started.Format(TimeLayout),
		TimeSpentSeconds: seconds,
	}
	wl.Author = &authorJSON{DisplayName: author}
	if comment != "" {
		doc := Document(comment)
		wl.Comment = &doc
	}
	m.worklogs[issueKey] = append(m.worklogs[issueKey], wl)
	return m.nextID
}

// Submissions returns the worklog creations received so far (for test assertions).
func (m *MockServer) Submissions() []Submission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Submission, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// Reset clears all state
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = make(map[string]string)
	m.queries = make(map[string][]string)
	m.failQueries = make(map[string]bool)
	m.failIssues = make(map[string]bool)
	m.worklogs = make(map[string][]worklogJSON)
	m.submissions = nil
}

func (m *MockServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	wantUser, wantToken, delay := m.username, m.token, m.delay
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return false
		}
	}

	user, token, ok := r.BasicAuth()
	if !ok || (wantUser != "" && (user != wantUser || token != wantToken)) {
		writeJSON(w, http.StatusUnauthorized, map[string][]string{"errorMessages": {"Unauthorized"}})
		return false
	}
	return true
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failQueries[req.JQL] {
		writeJSON(w, http.StatusInternalServerError, map[string][]string{"errorMessages": {"search failed"}})
		return
	}

	var resp searchResponse
	for i, key := range m.queries[req.JQL] {
		if req.MaxResults > 0 && i >= req.MaxResults {
			break
		}
		var is issueJSON
		is.ID = strconv.Itoa(i + 1)
		is.Key = key
		is.Fields.Summary = m.issues[key]
		resp.Issues = append(resp.Issues, is)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *MockServer) handleListWorklogs(w http.ResponseWriter, r *http.Request, key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failIssues[key] {
		writeJSON(w, http.StatusInternalServerError, map[string][]string{"errorMessages": {"worklog read failed"}})
		return
	}
	worklogs := m.worklogs[key]
	if worklogs == nil {
		worklogs = []worklogJSON{}
	}
	writeJSON(w, http.StatusOK, worklogsResponse{Worklogs: worklogs})
}

func (m *MockServer) handleCreateWorklog(w http.ResponseWriter, r *http.Request, key string) {
	var req worklogJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failIssues[key] {
		writeJSON(w, http.StatusInternalServerError, map[string][]string{"errorMessages": {"worklog create failed"}})
		return
	}
	if req.TimeSpentSeconds < 60 {
		writeJSON(w, http.StatusBadRequest, map[string]map[string]string{"errors": {"timeLogged": "Time logged must be at least one minute"}})
		return
	}
	if _, err := time.Parse(TimeLayout, req.Started); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]map[string]string{"errors": {"started": "invalid date"}})
		return
	}

	sub := Submission{IssueKey: key, Started: req.Started, TimeSpentSeconds: req.TimeSpentSeconds}
	if req.Comment != nil {
		sub.Comment = *req.Comment
	}
	m.submissions = append(m.submissions, sub)

	m.nextID++
	req.ID = strconv.FormatInt(m.nextID, 10)
	user, _, _ := r.BasicAuth()
	req.Author = &authorJSON{DisplayName: user}
	m.worklogs[key] = append(m.worklogs[key], req)

	writeJSON(w, http.StatusCreated, req)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
