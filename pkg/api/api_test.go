package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notcontrolos/hinata/pkg/config"
	"github.com/notcontrolos/hinata/pkg/hinata"
)

func newTestRouter(t *testing.T) (http.Handler, *hinata.Service) {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.SyncInterval = 0
	cfg.Memory.GCInterval = 0
	cfg.Worker.Workers = 1

	svc, err := hinata.New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	return NewRouter(svc), svc
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// ============================================================================
// Health
// ============================================================================

func TestLiveness(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadiness(t *testing.T) {
	router, svc := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// A stopped service is no longer ready.
	require.NoError(t, svc.Stop(context.Background()))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ============================================================================
// Stats and regions
// ============================================================================

func TestStatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestRegionLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	// Create
	body, _ := json.Marshal(map[string]string{"name": "testing"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/regions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	// List
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/regions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Verify (empty region, nothing corrupt)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/regions/1/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Compact
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/regions/1/compact", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Destroy
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/regions/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Destroying again is a 404
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/regions/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRegionValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/regions", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/regions", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBadRegionID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/regions/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Server lifecycle
// ============================================================================

func TestServerStartStop(t *testing.T) {
	_, svc := newTestRouter(t)

	cfg := config.GetDefaultConfig().API
	cfg.Port = 0 // not bound in this test

	srv := NewServer(cfg, svc)
	require.NoError(t, srv.Stop(context.Background()))
	// Stop is idempotent
	require.NoError(t, srv.Stop(context.Background()))
}
