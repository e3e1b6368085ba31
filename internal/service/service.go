// Package service runs indicator computations over stored bar series,
// caching results and announcing bar updates to live subscribers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/presets"
	redisstore "indicator-engine/internal/store/redis"
)

var (
	// ErrInvalidRequest is wrapped by malformed requests (missing symbol, bad
	// bars). Parameter errors wrap indicator.ErrInvalidParameter instead.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is wrapped when the series or preset does not exist.
	ErrNotFound = errors.New("not found")
)

// Cache is the result cache and update bus. *redis.Cache implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	PublishUpdate(ctx context.Context, u model.BarsUpdated) error
}

// Options wires a Service.
type Options struct {
	Reader model.BarReader
	Writer model.BarWriter

	Cache    Cache // nil runs uncached; updates go to local listeners only
	CacheTTL time.Duration

	Presets       *presets.Registry
	DefaultConfig indicator.Config
	DefaultLimit  int
	MaxLimit      int

	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger
}

// Service computes indicator bundles for stored series.
type Service struct {
	reader   model.BarReader
	writer   model.BarWriter
	cache    Cache
	cacheTTL time.Duration

	presets      *presets.Registry
	defaultCfg   indicator.Config
	defaultLimit int
	maxLimit     int

	prom *metrics.Metrics
	log  *slog.Logger

	mu        sync.RWMutex
	listeners []func(model.BarsUpdated)
}

// New creates a Service. Reader is required; Writer is required for Ingest.
func New(opts Options) (*Service, error) {
	if opts.Reader == nil {
		return nil, errors.New("service: bar reader is required")
	}
	if err := opts.DefaultConfig.Validate(); err != nil {
		return nil, fmt.Errorf("service: default config: %w", err)
	}
	if opts.Presets == nil {
		opts.Presets = presets.Builtin()
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 5000
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = min(500, opts.MaxLimit)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		reader:       opts.Reader,
		writer:       opts.Writer,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		presets:      opts.Presets,
		defaultCfg:   opts.DefaultConfig,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		prom:         opts.Metrics,
		log:          opts.Logger,
	}, nil
}

// Request asks for indicators over the latest Limit bars of a series.
//
// The config is chosen in this order: Config if set, else Indicators parsed
// on top of Preset (or the defaults with everything disabled), else Preset,
// else the service default.
type Request struct {
	Symbol     string            `json:"symbol"`
	TF         int               `json:"tf"`
	Limit      int               `json:"limit,omitempty"`
	Preset     string            `json:"preset,omitempty"`
	Indicators string            `json:"indicators,omitempty"`
	Config     *indicator.Config `json:"config,omitempty"`
}

// Response is a computed bundle aligned with Times.
type Response struct {
	Symbol     string            `json:"symbol"`
	TF         int               `json:"tf"`
	Limit      int               `json:"limit"`
	Times      []time.Time       `json:"times"`
	Closes     indicator.Series  `json:"closes"`
	Config     indicator.Config  `json:"config"`
	Indicators indicator.Bundle  `json:"indicators"`
	Summary    indicator.Summary `json:"summary"`
	Cached     bool              `json:"cached"`
}

// ResolveConfig returns the indicator config a request asks for.
func (s *Service) ResolveConfig(req Request) (indicator.Config, error) {
	if req.Config != nil {
		if err := req.Config.Validate(); err != nil {
			return indicator.Config{}, err
		}
		return *req.Config, nil
	}

	base := s.defaultCfg
	if req.Preset != "" {
		p, err := s.presets.Get(req.Preset)
		if err != nil {
			return indicator.Config{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		base = p
	}
	if strings.TrimSpace(req.Indicators) == "" {
		return base, nil
	}
	if req.Preset == "" {
		base = withoutIndicators(s.defaultCfg)
	}
	return indicator.ParseSpecs(req.Indicators, base)
}

// withoutIndicators keeps cfg's parameters but disables every indicator.
func withoutIndicators(cfg indicator.Config) indicator.Config {
	cfg.SMA20, cfg.SMA50, cfg.SMA200 = false, false, false
	cfg.EMA12, cfg.EMA26 = false, false
	cfg.RSI, cfg.MACD, cfg.Bollinger = false, false, false
	return cfg
}

func (s *Service) normalise(req *Request) error {
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if req.TF <= 0 {
		return fmt.Errorf("%w: tf must be a positive number of seconds, got %d", ErrInvalidRequest, req.TF)
	}
	switch {
	case req.Limit < 0:
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidRequest, req.Limit)
	case req.Limit == 0:
		req.Limit = s.defaultLimit
	case req.Limit > s.maxLimit:
		req.Limit = s.maxLimit
	}
	return nil
}

// Compute reads the series, serves the bundle from cache when possible and
// computes it otherwise.
func (s *Service) Compute(ctx context.Context, req Request) (*Response, error) {
	if err := s.normalise(&req); err != nil {
		s.countError(err)
		return nil, err
	}
	cfg, err := s.ResolveConfig(req)
	if err != nil {
		s.countError(err)
		return nil, err
	}

	bars, err := s.reader.ReadBars(ctx, req.Symbol, req.TF, req.Limit)
	if err != nil {
		if errors.Is(err, model.ErrNoBars) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		s.countError(err)
		return nil, err
	}

	key := redisstore.BundleKey(req.Symbol, req.TF, req.Limit, model.Digest(bars), cfg.Key())
	if resp, ok := s.cached(ctx, key); ok {
		s.countRequest("cache")
		return resp, nil
	}

	resp, err := s.compute(bars, cfg)
	if err != nil {
		s.countError(err)
		return nil, err
	}
	resp.Symbol, resp.TF, resp.Limit = req.Symbol, req.TF, req.Limit
	s.countRequest("compute")
	s.store(ctx, key, resp)

	s.log.Debug("indicators computed",
		append(logger.LogWithTrace(ctx),
			slog.String("series", model.SeriesKey(req.Symbol, req.TF)),
			slog.Int("bars", len(bars)),
			slog.String("config", cfg.Key()),
		)...)
	return resp, nil
}

// ComputeBars runs the indicators over caller-supplied bars. Nothing is
// read, stored or cached.
func (s *Service) ComputeBars(bars []model.Bar, cfg indicator.Config) (*Response, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.IsZero() && bars[i].TS.Before(bars[i-1].TS) {
			err := fmt.Errorf("%w: bars must be in chronological order (index %d)", ErrInvalidRequest, i)
			s.countError(err)
			return nil, err
		}
	}
	resp, err := s.compute(bars, cfg)
	if err != nil {
		s.countError(err)
		return nil, err
	}
	if len(bars) > 0 {
		resp.Symbol, resp.TF = bars[0].Symbol, bars[0].TF
	}
	resp.Limit = len(bars)
	s.countRequest("compute")
	return resp, nil
}

func (s *Service) compute(bars []model.Bar, cfg indicator.Config) (*Response, error) {
	start := time.Now()
	bundle, err := indicator.CalculateAll(bars, cfg)
	if err != nil {
		return nil, err
	}
	if s.prom != nil {
		s.prom.ComputeDur.Observe(time.Since(start).Seconds())
		s.prom.BarsPerRequest.Observe(float64(len(bars)))
		for _, n := range bundle.Names() {
			s.prom.IndicatorsTotal.WithLabelValues(string(n)).Inc()
		}
	}

	times := make([]time.Time, len(bars))
	for i := range bars {
		times[i] = bars[i].TS
	}
	return &Response{
		Times:      times,
		Closes:     indicator.Series(indicator.Closes(bars)),
		Config:     cfg,
		Indicators: bundle,
		Summary:    indicator.Summarize(bundle, cfg),
	}, nil
}

// cached looks key up. Cache failures count as misses.
func (s *Service) cached(ctx context.Context, key string) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.cacheError(ctx, "get", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		s.cacheError(ctx, "decode", err)
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (s *Service) store(ctx context.Context, key string, resp *Response) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.cacheError(ctx, "encode", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.cacheError(ctx, "set", err)
	}
}

func (s *Service) cacheError(ctx context.Context, op string, err error) {
	if s.prom != nil {
		s.prom.CacheErrors.Inc()
	}
	s.log.Warn("cache "+op+" failed", append(logger.LogWithTrace(ctx), slog.Any("error", err))...)
}

// IngestResult reports what Ingest stored.
type IngestResult struct {
	Written int                 `json:"written"`
	Series  []model.BarsUpdated `json:"series"`
}

// Ingest validates and stores bars, then announces one update per series.
func (s *Service) Ingest(ctx context.Context, bars []model.Bar) (*IngestResult, error) {
	if s.writer == nil {
		return nil, errors.New("service: ingest not configured")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars", ErrInvalidRequest)
	}

	updates := make(map[string]*model.BarsUpdated)
	var order []string
	for i, b := range bars {
		if err := validateBar(b); err != nil {
			err = fmt.Errorf("%w: bar %d: %v", ErrInvalidRequest, i, err)
			s.countError(err)
			return nil, err
		}
		k := b.Key()
		u, ok := updates[k]
		if !ok {
			u = &model.BarsUpdated{Symbol: b.Symbol, TF: b.TF}
			updates[k] = u
			order = append(order, k)
		}
		u.Count++
		if b.TS.After(u.LastTS) {
			u.LastTS = b.TS.UTC()
		}
	}

	n, err := s.writer.UpsertBars(ctx, bars)
	if err != nil {
		return nil, fmt.Errorf("store bars: %w", err)
	}
	if s.prom != nil {
		s.prom.BarsIngested.Add(float64(n))
	}

	res := &IngestResult{Written: n, Series: make([]model.BarsUpdated, 0, len(order))}
	for _, k := range order {
		u := *updates[k]
		// A backfill reports the series' newest bar, not the batch's.
		last, err := s.writer.LastTimestamp(ctx, u.Symbol, u.TF)
		if err != nil {
			s.log.Warn("read last bar time failed", append(logger.LogWithTrace(ctx),
				slog.String("series", k), slog.Any("error", err))...)
		} else if last.After(u.LastTS) {
			u.LastTS = last
		}
		res.Series = append(res.Series, u)
		s.announce(ctx, u)
	}

	s.log.Info("bars ingested", append(logger.LogWithTrace(ctx),
		slog.Int("bars", n), slog.Int("series", len(order)))...)
	return res, nil
}

func validateBar(b model.Bar) error {
	switch {
	case strings.TrimSpace(b.Symbol) == "":
		return errors.New("symbol is required")
	case b.TF <= 0:
		return fmt.Errorf("tf must be positive, got %d", b.TF)
	case b.TS.IsZero():
		return errors.New("ts is required")
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("prices must be finite")
		}
	}
	return nil
}

// announce publishes u on the cache bus, or straight to local listeners when
// running without a cache or when publishing fails.
func (s *Service) announce(ctx context.Context, u model.BarsUpdated) {
	if s.cache != nil {
		err := s.cache.PublishUpdate(ctx, u)
		if err == nil {
			return
		}
		s.cacheError(ctx, "publish", err)
	}
	s.Notify(u)
}

// OnUpdate registers fn for bar updates delivered locally.
func (s *Service) OnUpdate(fn func(model.BarsUpdated)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Notify delivers u to every local listener. The Redis subscriber calls this
// for updates published by any instance.
func (s *Service) Notify(u model.BarsUpdated) {
	s.mu.RLock()
	ls := s.listeners
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(u)
	}
}

// Symbols lists the stored series.
func (s *Service) Symbols(ctx context.Context) ([]model.SeriesInfo, error) {
	return s.reader.Symbols(ctx)
}

// Presets returns every named preset.
func (s *Service) Presets() map[string]indicator.Config {
	return s.presets.All()
}

// DefaultConfig returns the config used when a request names none.
func (s *Service) DefaultConfig() indicator.Config {
	return s.defaultCfg
}

func (s *Service) countRequest(source string) {
	if s.prom != nil {
		s.prom.RequestsTotal.WithLabelValues(source).Inc()
	}
}

func (s *Service) countError(err error) {
	if s.prom != nil {
		s.prom.ComputeErrors.WithLabelValues(ErrorKind(err)).Inc()
	}
}

// ErrorKind classifies err as "invalid", "not_found" or "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, indicator.ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, ErrNotFound), errors.Is(err, model.ErrNoBars), errors.Is(err, presets.ErrUnknownPreset):
		return "not_found"
	}
	return "internal"
}
