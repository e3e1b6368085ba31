package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the indicator server.
type Metrics struct {
	// Compute path
	ComputeDur      prometheus.Histogram
	RequestsTotal   *prometheus.CounterVec // labels: source=cache|compute
	IndicatorsTotal *prometheus.CounterVec // labels: indicator
	ComputeErrors   *prometheus.CounterVec // labels: kind=invalid|not_found|internal
	BarsPerRequest  prometheus.Histogram

	// Ingest
	BarsIngested prometheus.Counter

	// Cache
	CacheErrors prometheus.Counter

	// WebSocket fan-out
	WSClients      prometheus.Gauge
	WSPushesTotal  prometheus.Counter
	WSDroppedTotal prometheus.Counter

	// Signal alerts
	AlertsTotal     *prometheus.CounterVec // labels: signal
	AlertSendErrors prometheus.Counter
	AlertsDropped   prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisHeldUpdates         prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indserver_compute_duration_seconds",
			Help:    "Time spent in CalculateAll per request",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indserver_requests_total",
			Help: "Indicator requests by result source",
		}, []string{"source"}),
		IndicatorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indserver_indicators_total",
			Help: "Indicator series computed, by indicator",
		}, []string{"indicator"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indserver_compute_errors_total",
			Help: "Failed indicator requests by kind",
		}, []string{"kind"}),
		BarsPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indserver_bars_per_request",
			Help:    "Number of bars fed into each computation",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_bars_ingested_total",
			Help: "Bars written to the bar store",
		}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_cache_errors_total",
			Help: "Redis cache errors treated as misses",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indserver_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSPushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_ws_pushes_total",
			Help: "Indicator bundles pushed to WebSocket clients",
		}),
		WSDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_ws_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indserver_alerts_total",
			Help: "Signal-change alerts raised, by new signal",
		}, []string{"signal"}),
		AlertSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_alert_send_errors_total",
			Help: "Alerts a notifier failed to deliver",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_alert_updates_dropped_total",
			Help: "Bar updates skipped because the alert queue was full",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indserver_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisHeldUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indserver_redis_held_updates_total",
			Help: "Bar-update notifications held while the Redis circuit was open",
		}),
	}

	reg.MustRegister(
		m.ComputeDur,
		m.RequestsTotal,
		m.IndicatorsTotal,
		m.ComputeErrors,
		m.BarsPerRequest,
		m.BarsIngested,
		m.CacheErrors,
		m.WSClients,
		m.WSPushesTotal,
		m.WSDroppedTotal,
		m.AlertsTotal,
		m.AlertSendErrors,
		m.AlertsDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisHeldUpdates,
	)

	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status. redisEnabled is false when the
// server runs without a cache; Redis is then not part of the verdict.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		RedisEnabled: redisEnabled,
		StartedAt:    time.Now(),
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the bar store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckAll runs every configured probe once.
func (h *HealthStatus) CheckAll(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if rdb != nil {
		h.CheckRedis(probeCtx, rdb)
	}
	if sqlDB != nil {
		h.CheckSQLite(probeCtx, sqlDB)
	}
}

// StartLivenessChecker probes immediately and then every interval until ctx
// is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		h.CheckAll(ctx, rdb, sqlDB)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.CheckAll(ctx, rdb, sqlDB)
			}
		}
	}()
}

// Verdict summarises health as healthy, degraded or unhealthy.
func (h *HealthStatus) Verdict() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.verdictLocked()
}

func (h *HealthStatus) verdictLocked() string {
	switch {
	case !h.SQLiteOK:
		return "unhealthy"
	case h.RedisEnabled && !h.RedisConnected:
		return "degraded"
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	verdict := h.verdictLocked()
	httpCode := http.StatusOK
	if verdict == "unhealthy" {
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          verdict,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
