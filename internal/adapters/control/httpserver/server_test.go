package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	mu     sync.Mutex
	record domain.RuntimeRecord
	ready  error
}

func (s *fakeStatus) Snapshot() domain.RuntimeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

func (s *fakeStatus) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeStatus) setReady(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = err
}

func newTestServer(t *testing.T, status *fakeStatus) *Server {
	t.Helper()

	registry := prometheus.NewRegistry()
	server, err := New(Options{
		Listen:     "127.0.0.1:0",
		Status:     status,
		Registerer: registry,
		Gatherer:   registry,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return server
}

func serve(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerReadinessFollowsStatus(t *testing.T) {
	status := &fakeStatus{ready: errors.New("no active listener")}
	server := newTestServer(t, status)

	assert.Equal(t, http.StatusOK, serve(server, httptest.NewRequest(http.MethodGet, "/live", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(server, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)

	status.setReady(nil)
	assert.Equal(t, http.StatusOK, serve(server, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)
}

func TestServerAdminStatusRequiresPassword(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	status := &fakeStatus{record: domain.RuntimeRecord{BotID: "1000001", StartedAt: started, ListenerID: "l-1", Rotations: 4}}
	server := newTestServer(t, status)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.SetBasicAuth(AdminUser, "")
	assert.Equal(t, http.StatusUnauthorized, serve(server, req).Code, "no password set yet")

	server.SetAdminPassword("a1b2c3d4")

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.SetBasicAuth(AdminUser, "wrong")
	rec := serve(server, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.SetBasicAuth("root", "a1b2c3d4")
	assert.Equal(t, http.StatusUnauthorized, serve(server, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.SetBasicAuth(AdminUser, "a1b2c3d4")
	rec = serve(server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "1000001", body.BotID)
	assert.Equal(t, started, body.StartedAt)
	assert.Equal(t, "l-1", body.ListenerID)
	assert.Equal(t, int64(4), body.Rotations)
	assert.True(t, body.Ready)
}

func TestServerAdminStatusRejectsOtherMethods(t *testing.T) {
	server := newTestServer(t, &fakeStatus{})
	server.SetAdminPassword("a1b2c3d4")

	req := httptest.NewRequest(http.MethodPost, "/admin/status", strings.NewReader("{}"))
	req.SetBasicAuth(AdminUser, "a1b2c3d4")
	assert.Equal(t, http.StatusMethodNotAllowed, serve(server, req).Code)
}

func TestServerExposesMetrics(t *testing.T) {
	server := newTestServer(t, &fakeStatus{})

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "botkeeper_healthcheck_status")
}

func TestServerStartAndShutdown(t *testing.T) {
	server := newTestServer(t, &fakeStatus{})

	require.NoError(t, server.Start(context.Background()))
	require.Error(t, server.Start(context.Background()))

	resp, err := http.Get("http://" + server.Addr() + "/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err = http.Get("http://" + server.Addr() + "/live")
	assert.Error(t, err)
}

func TestServerShutdownBeforeStartIsNoop(t *testing.T) {
	server := newTestServer(t, &fakeStatus{})
	assert.NoError(t, server.Shutdown(context.Background()))
}

func TestNewRequiresStatus(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
