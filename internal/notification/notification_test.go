package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) sent() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// scripted returns the queued summaries in order.
type scripted struct {
	summaries []indicator.Summary
	calls     int
	reqs      []service.Request
}

func (s *scripted) Compute(_ context.Context, req service.Request) (*service.Response, error) {
	s.reqs = append(s.reqs, req)
	if s.calls >= len(s.summaries) {
		return nil, errors.New("no more responses")
	}
	sum := s.summaries[s.calls]
	s.calls++
	return &service.Response{
		Symbol:  req.Symbol,
		TF:      req.TF,
		Times:   []time.Time{time.Date(2024, 1, 1, 0, s.calls, 0, 0, time.UTC)},
		Summary: sum,
	}, nil
}

func rsi(v float64, sig indicator.RSISignal) indicator.Summary {
	return indicator.Summary{RSI: &indicator.RSISummary{Value: v, Formatted: indicator.FormatValue(v), Signal: sig}}
}

func watchConfig() indicator.Config {
	cfg := indicator.DefaultConfig()
	cfg.RSI, cfg.MACD = true, true
	return cfg
}

func TestWatcherAlertsOnSignalChange(t *testing.T) {
	svc := &scripted{summaries: []indicator.Summary{
		rsi(55, indicator.RSINeutral),
		rsi(60, indicator.RSINeutral),
		rsi(74.2, indicator.RSIOverbought),
		rsi(50, indicator.RSINeutral),
	}}
	rec := &recorder{}
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	w, err := NewSignalWatcher(svc, rec, WatcherOptions{Config: watchConfig(), Metrics: prom})
	require.NoError(t, err)

	u := model.BarsUpdated{Symbol: "AAPL", TF: 300}
	for range svc.summaries {
		w.Check(context.Background(), u)
	}

	alerts := rec.sent()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertWarning, alerts[0].Level)
	assert.Equal(t, "rsi", alerts[0].Indicator)
	assert.Equal(t, "neutral", alerts[0].From)
	assert.Equal(t, "overbought", alerts[0].To)
	assert.Equal(t, 74.2, alerts[0].Value)
	assert.Equal(t, "AAPL 5m RSI overbought", alerts[0].Title)
	assert.Equal(t, "RSI(14) 74.20, was neutral", alerts[0].Message)
	assert.Equal(t, AlertInfo, alerts[1].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.AlertsTotal.WithLabelValues("overbought")))

	require.NotNil(t, svc.reqs[0].Config)
	assert.True(t, svc.reqs[0].Config.RSI)
}

func TestWatcherMACDCrossover(t *testing.T) {
	macd := func(m, s float64) indicator.Summary {
		return indicator.Summary{MACD: &indicator.MACDSummary{
			MACD: m, Signal: s, Histogram: m - s, Trend: indicator.ClassifyMACD(m, s),
			FormattedMACD: indicator.FormatValue(m), FormattedSig: indicator.FormatValue(s), FormattedHist: indicator.FormatValue(m - s),
		}}
	}
	svc := &scripted{summaries: []indicator.Summary{macd(-1, 0), macd(0.5, 0.2)}}
	rec := &recorder{err: errors.New("down")}
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	w, err := NewSignalWatcher(svc, rec, WatcherOptions{Config: watchConfig(), Metrics: prom})
	require.NoError(t, err)

	u := model.BarsUpdated{Symbol: "BTC", TF: 3600}
	w.Check(context.Background(), u)
	w.Check(context.Background(), u)

	alerts := rec.sent()
	require.Len(t, alerts, 1)
	assert.Equal(t, "bearish", alerts[0].From)
	assert.Equal(t, "bullish", alerts[0].To)
	assert.Equal(t, "BTC 1h MACD bullish", alerts[0].Title)
	assert.InDelta(t, 0.3, alerts[0].Value, 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.AlertSendErrors))
}

func TestWatcherSeriesAreIndependent(t *testing.T) {
	svc := &scripted{summaries: []indicator.Summary{
		rsi(20, indicator.RSIOversold),
		rsi(50, indicator.RSINeutral),
	}}
	rec := &recorder{}
	w, err := NewSignalWatcher(svc, rec, WatcherOptions{Config: watchConfig()})
	require.NoError(t, err)

	w.Check(context.Background(), model.BarsUpdated{Symbol: "A", TF: 60})
	w.Check(context.Background(), model.BarsUpdated{Symbol: "B", TF: 60})
	assert.Empty(t, rec.sent(), "first reading of each series is a baseline")
}

func TestWatcherRunAndQueue(t *testing.T) {
	svc := &scripted{summaries: []indicator.Summary{rsi(50, indicator.RSINeutral), rsi(10, indicator.RSIOversold)}}
	rec := &recorder{}
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	w, err := NewSignalWatcher(svc, rec, WatcherOptions{Config: watchConfig(), Metrics: prom, QueueSize: 2})
	require.NoError(t, err)

	u := model.BarsUpdated{Symbol: "A", TF: 60}
	w.OnBarsUpdated(u)
	w.OnBarsUpdated(u)
	w.OnBarsUpdated(u) // queue full
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.AlertsDropped))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	assert.Eventually(t, func() bool { return len(rec.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewSignalWatcherRequiresMomentum(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.SMA20 = true
	_, err := NewSignalWatcher(&scripted{}, &recorder{}, WatcherOptions{Config: cfg})
	assert.True(t, errors.Is(err, indicator.ErrInvalidParameter))
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Symbol: "AAPL", TF: 60, To: "overbought"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, "overbought", got["to"])
	assert.Contains(t, got, "sent_at")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	assert.Error(t, NewWebhookNotifier(bad.URL).Send(context.Background(), Alert{}))
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42")
	n.apiBase = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertWarning, Title: "AAPL 5m", Message: "RSI 74.2"}))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `*AAPL 5m*`)
	assert.Contains(t, body["text"], `RSI 74\.2`)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b \(1\.5\)\!`, escapeMarkdown("a_b (1.5)!"))
	assert.Equal(t, "plain", escapeMarkdown("plain"))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok, failing := &recorder{}, &recorder{err: errors.New("boom")}
	err := Multi{ok, failing, NewLogNotifier(nil)}.Send(context.Background(), Alert{Title: "x"})
	assert.EqualError(t, err, "boom")
	assert.Len(t, ok.sent(), 1)
}
