package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("cache").Inc()
	m.RequestsTotal.WithLabelValues("compute").Add(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("cache")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("compute")))

	// A second set on a fresh registry must not panic.
	NewMetrics(prometheus.NewRegistry())
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_Verdicts(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	s := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer rdb.Close()

	h := NewHealthStatus(true)
	code, body := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.CheckAll(ctx, rdb, db)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	s.Close()
	h.CheckRedis(ctx, rdb)
	assert.Equal(t, "degraded", h.Verdict())
}

func TestHealth_RedisDisabled(t *testing.T) {
	h := NewHealthStatus(false)
	h.CheckSQLite(context.Background(), openSQLite(t))
	assert.Equal(t, "healthy", h.Verdict())
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.BarsIngested.Add(5)

	srv := NewServer(":0", NewHealthStatus(false), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "indserver_bars_ingested_total 5"))
}
