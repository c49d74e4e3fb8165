package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/metrics"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/runner"
)

const testToken = "admin-secret"

type fakeJobs struct {
	mu       sync.Mutex
	sessions []runner.SessionInfo
	answers  map[string]string
	resumed  []string
	err      error
}

func (f *fakeJobs) Sessions() []runner.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.SessionInfo(nil), f.sessions...)
}

func (f *fakeJobs) Session(id string) (runner.SessionInfo, bool) {
	for _, s := range f.Sessions() {
		if s.JobID == id {
			return s, true
		}
	}
	return runner.SessionInfo{}, false
}

func (f *fakeJobs) HandleAnswer(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[id] = text
	return nil
}

func (f *fakeJobs) Resume(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeJobs) Cancel(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *fakeJobs, *persistence.Store, *prometheus.Registry) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "admin.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jobs := &fakeJobs{sessions: []runner.SessionInfo{
		{JobID: "JOB-001", State: mailbox.SessionRunning, Strategy: "script", Active: true},
		{JobID: "JOB-002", State: mailbox.SessionBlocked, Strategy: "script"},
	}}
	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(NewServer(jobs, store, reg, token).Handler())
	t.Cleanup(srv.Close)
	return srv, jobs, store, reg
}

func do(t *testing.T, method, url, token, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestHealthIsOpen(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "")
	code, body := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, code)

	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["sessions"])
}

func TestMetricsServesRegistry(t *testing.T) {
	srv, _, _, reg := newTestServer(t, "")
	metrics.NewPrometheusRecorder(reg).IncJob(persistence.StatusComplete)

	code, body := do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "omegaclaw_jobs_total")
}

func TestAPIAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"no token configured", "", "anything", http.StatusUnauthorized},
		{"missing header", testToken, "", http.StatusUnauthorized},
		{"wrong token", testToken, "nope", http.StatusUnauthorized},
		{"valid token", testToken, testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _, _ := newTestServer(t, tt.configured)
			code, _ := do(t, http.MethodGet, srv.URL+"/api/jobs", tt.sent, "")
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestListAndGetJobs(t *testing.T) {
	srv, _, store, _ := newTestServer(t, testToken)
	for i, status := range []string{persistence.StatusPending, persistence.StatusComplete} {
		require.NoError(t, store.UpsertJob(&persistence.Job{
			ID:     fmt.Sprintf("JOB-00%d", i+1),
			Name:   "task",
			Kit:    "script",
			Mode:   "just_build",
			Status: status,
		}))
	}
	require.NoError(t, store.MarkDelivered("JOB-002", 3))

	code, body := do(t, http.MethodGet, srv.URL+"/api/jobs?status=complete", testToken, "")
	require.Equal(t, http.StatusOK, code)
	var list jobsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "JOB-002", list.Jobs[0].ID)
	assert.Len(t, list.Sessions, 2)

	code, _ = do(t, http.MethodGet, srv.URL+"/api/jobs?limit=x", testToken, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, http.MethodGet, srv.URL+"/api/jobs/job-002", testToken, "")
	require.Equal(t, http.StatusOK, code)
	var one jobResponse
	require.NoError(t, json.Unmarshal([]byte(body), &one))
	assert.Equal(t, persistence.StatusComplete, one.Job.Status)
	assert.Nil(t, one.Session)
	require.Len(t, one.Delivered, 1)
	assert.Equal(t, 3, one.Delivered[0].Cycle)

	code, body = do(t, http.MethodGet, srv.URL+"/api/jobs/JOB-001", testToken, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &one))
	require.NotNil(t, one.Session)
	assert.True(t, one.Session.Active)

	code, _ = do(t, http.MethodGet, srv.URL+"/api/jobs/JOB-404", testToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJobControl(t *testing.T) {
	srv, jobs, _, _ := newTestServer(t, testToken)

	code, _ := do(t, http.MethodPost, srv.URL+"/api/jobs/JOB-002/answer", testToken, `{"text":"use postgres"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "use postgres", jobs.answers["JOB-002"])

	code, _ = do(t, http.MethodPost, srv.URL+"/api/jobs/JOB-002/answer", testToken, `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, srv.URL+"/api/jobs/JOB-002/resume", testToken, "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"JOB-002"}, jobs.resumed)

	code, _ = do(t, http.MethodGet, srv.URL+"/api/jobs/JOB-002/cancel", testToken, "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	errCases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("job JOB-009: %w", mailbox.ErrNotFound), http.StatusNotFound},
		{runner.ErrNotTracked, http.StatusNotFound},
		{runner.ErrNotResumable, http.StatusConflict},
		{runner.ErrAlreadyActive, http.StatusConflict},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range errCases {
		jobs.mu.Lock()
		jobs.err = tc.err
		jobs.mu.Unlock()
		code, _ := do(t, http.MethodPost, srv.URL+"/api/jobs/JOB-009/cancel", testToken, "")
		assert.Equal(t, tc.want, code, tc.err.Error())
	}

	jobs.mu.Lock()
	jobs.err = fmt.Errorf("job JOB-009: %w", runner.ErrNoOpenBlocker)
	jobs.mu.Unlock()
	code, body := do(t, http.MethodPost, srv.URL+"/api/jobs/JOB-009/answer", testToken, `{"text":"yes"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body, "no open blocker")
}

func TestCommandLog(t *testing.T) {
	srv, _, store, _ := newTestServer(t, testToken)
	require.NoError(t, store.LogCommand(&persistence.CommandEntry{UserID: 5, Message: "/status", Intent: "command", Response: "ok"}))
	require.NoError(t, store.LogCommand(&persistence.CommandEntry{UserID: 6, Message: "hi", Intent: "chat", Response: "help"}))

	code, body := do(t, http.MethodGet, srv.URL+"/api/commands?user=5", testToken, "")
	require.Equal(t, http.StatusOK, code)
	var entries []persistence.CommandEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "/status", entries[0].Message)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := NewServer(&fakeJobs{}, nil, prometheus.NewRegistry(), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
