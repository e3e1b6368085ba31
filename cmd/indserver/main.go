// Command indserver serves indicator bundles over REST and websocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"indicator-engine/config"
	"indicator-engine/internal/api"
	"indicator-engine/internal/gateway"
	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/notification"
	"indicator-engine/internal/presets"
	"indicator-engine/internal/service"
	redisstore "indicator-engine/internal/store/redis"
	sqlitestore "indicator-engine/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()
	log := logger.Init("indserver", logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Bar store ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer writer.Close()
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	// ---- Indicator configuration ----
	registry := presets.Builtin()
	if cfg.PresetsPath != "" {
		if registry, err = presets.Load(cfg.PresetsPath); err != nil {
			return err
		}
		log.Info("presets loaded", slog.String("path", cfg.PresetsPath), slog.Any("names", registry.Names()))
	}
	defaults, err := indicator.ParseSpecs(cfg.DefaultIndicators, indicator.DefaultConfig())
	if err != nil {
		return err
	}

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// ---- Optional cache / update bus ----
	var cache *redisstore.Cache
	if cfg.RedisEnabled() {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		cache, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Breaker:  cb,
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		cache.OnBuffer = prom.RedisHeldUpdates.Inc
		cache.OnFlush = func(n int) { log.Info("held bar updates published", slog.Int("count", n)) }
	} else {
		log.Warn("REDIS_ADDR empty, running without cache")
	}

	opts := service.Options{
		Reader:        reader,
		Writer:        writer,
		CacheTTL:      cfg.CacheTTL,
		Presets:       registry,
		DefaultConfig: defaults,
		DefaultLimit:  cfg.DefaultBarLimit,
		MaxLimit:      cfg.MaxBarLimit,
		Metrics:       prom,
		Logger:        log,
	}
	if cache != nil {
		opts.Cache = cache
	}
	svc, err := service.New(opts)
	if err != nil {
		return err
	}

	// ---- Live updates ----
	hub := gateway.NewHub(svc, prom, log)
	svc.OnUpdate(hub.OnBarsUpdated)
	go hub.Run(ctx)

	if cfg.AlertsEnabled() {
		watcher, err := newSignalWatcher(cfg, svc, prom, log)
		if err != nil {
			return err
		}
		svc.OnUpdate(watcher.OnBarsUpdated)
		go watcher.Run(ctx)
	}

	var rdb *goredis.Client
	if cache != nil {
		rdb = cache.Client()
		unsubscribe, err := cache.SubscribeUpdates(ctx, svc.Notify)
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	// ---- Health + metrics ----
	health := metrics.NewHealthStatus(cache != nil)
	health.StartLivenessChecker(ctx, rdb, reader.DB(), 10*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// ---- HTTP ----
	mux := api.NewRouter(svc, health, log)
	hub.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr),
			slog.String("default_indicators", defaults.Key()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.Any("err", err))
	}
	metricsSrv.Stop(shutdownCtx)
	return nil
}

// newSignalWatcher builds the alert watcher with every configured sink.
func newSignalWatcher(cfg *config.Config, svc *service.Service, prom *metrics.Metrics, log *slog.Logger) (*notification.SignalWatcher, error) {
	watch, err := indicator.ParseSpecs(cfg.AlertIndicators, indicator.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var sinks notification.Multi
	if cfg.AlertLog {
		sinks = append(sinks, notification.NewLogNotifier(log))
	}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	log.Info("signal alerts enabled", slog.String("watch", watch.Key()), slog.Int("sinks", len(sinks)))
	return notification.NewSignalWatcher(svc, sinks, notification.WatcherOptions{
		Config:  watch,
		Metrics: prom,
		Logger:  log,
	})
}
