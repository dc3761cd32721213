package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsconsole/dbsupervisor/internal/alert"
	"github.com/opsconsole/dbsupervisor/internal/database"
	"github.com/opsconsole/dbsupervisor/internal/registry"
	"github.com/opsconsole/dbsupervisor/internal/supervisor"
)

// fakeClient backs the server tests; pingErr flips the backend unhealthy.
type fakeClient struct {
	pingErr error
}

func (c *fakeClient) Acquire(ctx context.Context) (database.Conn, error) {
	return nil, errors.New("fake: no connections")
}

func (c *fakeClient) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeClient) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return 0, nil
}

func (c *fakeClient) SessionStats(ctx context.Context, slow, txn time.Duration) (*database.SessionStats, error) {
	return &database.SessionStats{}, nil
}

func (c *fakeClient) PoolStats() database.PoolStats {
	return database.PoolStats{Total: 10, Idle: 10}
}

func (c *fakeClient) Close() error { return nil }

func newTestServer(t *testing.T, client database.Client, staleAge time.Duration) (*Server, *registry.Registry) {
	t.Helper()
	dispatcher := alert.NewDispatcher()
	reg := registry.New(registry.DefaultConfig(), dispatcher)
	sup := supervisor.New(client, reg, dispatcher, supervisor.Config{StaleOperationAge: staleAge})
	monitor := NewMonitor(client, sup, reg, dispatcher, Thresholds{})
	return NewServer("0", monitor, sup), reg
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeClient{}, 0)

	rec := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dbsupervisor", body["service"])
	assert.Contains(t, body, "uptime_seconds")
}

func TestReportRunsOnDemandBeforeFirstCycle(t *testing.T) {
	s, _ := newTestServer(t, &fakeClient{}, 0)

	// No periodic check has run; the handler performs one itself.
	rec := doRequest(s, http.MethodGet, "/health/report")
	assert.Equal(t, http.StatusOK, rec.Code)

	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Healthy)
	assert.Len(t, result.Checks, 4)
}

func TestReportReturns503WhenUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, &fakeClient{pingErr: errors.New("connection refused")}, 0)

	rec := doRequest(s, http.MethodGet, "/health/report")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Healthy)
}

func TestReportServesLastPeriodicResult(t *testing.T) {
	s, _ := newTestServer(t, &fakeClient{}, 0)

	first := s.monitor.PerformHealthCheck(context.Background())

	rec := doRequest(s, http.MethodGet, "/health/report")
	assert.Equal(t, http.StatusOK, rec.Code)

	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, first.Timestamp.Unix(), result.Timestamp.Unix())
}

func TestStatsEndpoint(t *testing.T) {
	s, reg := newTestServer(t, &fakeClient{}, 0)

	id := reg.Register("in-flight")
	defer reg.Unregister(id)

	rec := doRequest(s, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "connection_pool")
	require.Contains(t, body, "leaks")

	leaks, ok := body["leaks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), leaks["active_operations"])
}

func TestCleanupEndpoint(t *testing.T) {
	s, reg := newTestServer(t, &fakeClient{}, 20*time.Millisecond)

	reg.Register("ancient")
	time.Sleep(40 * time.Millisecond)

	rec := doRequest(s, http.MethodPost, "/admin/cleanup")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["removed"])
	assert.Equal(t, 0, reg.Size())

	// Nothing stale left.
	rec = doRequest(s, http.MethodPost, "/admin/cleanup")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body["removed"])
}

func TestCleanupRejectsGet(t *testing.T) {
	s, _ := newTestServer(t, &fakeClient{}, 0)
	rec := doRequest(s, http.MethodGet, "/admin/cleanup")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
