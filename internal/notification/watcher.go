package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"
)

// Computer computes the bundle a watcher inspects. *service.Service
// implements it.
type Computer interface {
	Compute(ctx context.Context, req service.Request) (*service.Response, error)
}

// SignalWatcher recomputes a series after each bar update and raises an
// alert when its RSI or MACD signal differs from the previous reading.
// The first reading of a series only sets the baseline.
type SignalWatcher struct {
	svc      Computer
	notifier Notifier
	cfg      indicator.Config
	prom     *metrics.Metrics // optional
	log      *slog.Logger

	queue chan model.BarsUpdated

	mu   sync.Mutex
	last map[string]signals // series key -> last seen signals
}

type signals struct {
	rsi  indicator.RSISignal
	macd indicator.MACDSignal
}

// WatcherOptions configures a SignalWatcher.
type WatcherOptions struct {
	Config    indicator.Config // indicators to watch; RSI and/or MACD must be enabled
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	QueueSize int // default 1024
}

// NewSignalWatcher creates a watcher. Call Run to start it.
func NewSignalWatcher(svc Computer, n Notifier, opts WatcherOptions) (*SignalWatcher, error) {
	if !opts.Config.RSI && !opts.Config.MACD {
		return nil, fmt.Errorf("%w: signal watcher needs rsi or macd enabled", indicator.ErrInvalidParameter)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	return &SignalWatcher{
		svc:      svc,
		notifier: n,
		cfg:      opts.Config,
		prom:     opts.Metrics,
		log:      opts.Logger,
		queue:    make(chan model.BarsUpdated, opts.QueueSize),
		last:     make(map[string]signals),
	}, nil
}

// OnBarsUpdated queues u without blocking. Updates are dropped when the
// queue is full.
func (w *SignalWatcher) OnBarsUpdated(u model.BarsUpdated) {
	select {
	case w.queue <- u:
	default:
		if w.prom != nil {
			w.prom.AlertsDropped.Inc()
		}
		w.log.Warn("alert queue full, skipping update", slog.String("series", model.SeriesKey(u.Symbol, u.TF)))
	}
}

// Run processes queued updates until ctx is cancelled.
func (w *SignalWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.queue:
			w.Check(ctx, u)
		}
	}
}

// Check recomputes u's series and sends an alert for every changed signal.
func (w *SignalWatcher) Check(ctx context.Context, u model.BarsUpdated) {
	cfg := w.cfg
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := w.svc.Compute(cctx, service.Request{Symbol: u.Symbol, TF: u.TF, Config: &cfg})
	if err != nil {
		w.log.Warn("signal check failed", slog.String("series", model.SeriesKey(u.Symbol, u.TF)), slog.Any("err", err))
		return
	}

	key := model.SeriesKey(u.Symbol, u.TF)
	now := signals{rsi: indicator.RSINeutral, macd: indicator.MACDNeutral}
	if resp.Summary.RSI != nil {
		now.rsi = resp.Summary.RSI.Signal
	}
	if resp.Summary.MACD != nil {
		now.macd = resp.Summary.MACD.Trend
	}

	w.mu.Lock()
	prev, seen := w.last[key]
	w.last[key] = now
	w.mu.Unlock()
	if !seen {
		return
	}

	var barTS time.Time
	if n := len(resp.Times); n > 0 {
		barTS = resp.Times[n-1]
	}
	base := Alert{Symbol: u.Symbol, TF: u.TF, BarTS: barTS}

	if w.cfg.RSI && now.rsi != prev.rsi && resp.Summary.RSI != nil {
		a := base
		a.Indicator, a.From, a.To = string(indicator.NameRSI), string(prev.rsi), string(now.rsi)
		a.Value = resp.Summary.RSI.Value
		a.Level = AlertInfo
		if now.rsi != indicator.RSINeutral {
			a.Level = AlertWarning
		}
		a.Title = fmt.Sprintf("%s %s RSI %s", u.Symbol, model.TFLabel(u.TF), now.rsi)
		a.Message = fmt.Sprintf("RSI(%d) %s, was %s", cfg.RSIPeriod, resp.Summary.RSI.Formatted, prev.rsi)
		w.send(ctx, a)
	}
	if w.cfg.MACD && now.macd != prev.macd && resp.Summary.MACD != nil {
		a := base
		a.Indicator, a.From, a.To = string(indicator.NameMACD), string(prev.macd), string(now.macd)
		a.Value = resp.Summary.MACD.Histogram
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("%s %s MACD %s", u.Symbol, model.TFLabel(u.TF), now.macd)
		a.Message = fmt.Sprintf("MACD %s, signal %s, histogram %s",
			resp.Summary.MACD.FormattedMACD, resp.Summary.MACD.FormattedSig, resp.Summary.MACD.FormattedHist)
		w.send(ctx, a)
	}
}

func (w *SignalWatcher) send(ctx context.Context, a Alert) {
	if w.prom != nil {
		w.prom.AlertsTotal.WithLabelValues(a.To).Inc()
	}
	if err := w.notifier.Send(ctx, a); err != nil {
		if w.prom != nil {
			w.prom.AlertSendErrors.Inc()
		}
		w.log.Warn("alert delivery failed", slog.String("title", a.Title), slog.Any("err", err))
	}
}
