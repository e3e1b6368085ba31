package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/presets"
	redisstore "indicator-engine/internal/store/redis"
	sqlitestore "indicator-engine/internal/store/sqlite"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)

func bars(symbol string, tf int, from int, closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			Symbol: symbol, TF: tf, TS: t0.Add(time.Duration((from+i)*tf) * time.Second),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1,
		}
	}
	return out
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + math.Sin(float64(i)/4)*5 + float64(i)/10
	}
	return out
}

type fixture struct {
	svc   *Service
	cache *redisstore.Cache
	redis *miniredis.Miniredis
	prom  *metrics.Metrics
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	require.NoError(t, err)
	r, err := sqlitestore.NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })

	def, err := indicator.ParseSpecs("sma20,rsi,macd", indicator.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{prom: metrics.NewMetrics(prometheus.NewRegistry())}
	opts := Options{
		Reader:        r,
		Writer:        w,
		CacheTTL:      time.Minute,
		DefaultConfig: def,
		DefaultLimit:  100,
		MaxLimit:      200,
		Metrics:       f.prom,
	}
	if withCache {
		f.redis = miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: f.redis.Addr()})
		t.Cleanup(func() { client.Close() })
		f.cache = redisstore.NewWithClient(client, redisstore.NewCircuitBreaker(3, time.Second), 10)
		opts.Cache = f.cache
	}
	f.svc, err = New(opts)
	require.NoError(t, err)
	return f
}

func TestCompute_UnknownSeries(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Compute(context.Background(), Request{Symbol: "NOPE", TF: 60})
	assert.True(t, errors.Is(err, ErrNotFound), "err = %v", err)
	assert.Equal(t, "not_found", ErrorKind(err))
}

func TestCompute_InvalidRequests(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, req := range []Request{
		{TF: 60},
		{Symbol: "A", TF: 0},
		{Symbol: "A", TF: 60, Limit: -1},
	} {
		_, err := f.svc.Compute(ctx, req)
		assert.True(t, errors.Is(err, ErrInvalidRequest), "%+v: %v", req, err)
	}

	_, err := f.svc.Compute(ctx, Request{Symbol: "A", TF: 60, Indicators: "macd:26:12:9"})
	assert.True(t, errors.Is(err, indicator.ErrInvalidParameter), "err = %v", err)
	assert.Equal(t, "invalid", ErrorKind(err))

	_, err = f.svc.Compute(ctx, Request{Symbol: "A", TF: 60, Preset: "nope"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, presets.ErrUnknownPreset))
}

func TestCompute_CachedUntilNewBars(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, bars("AAPL", 60, 0, ramp(80)...))
	require.NoError(t, err)

	first, err := f.svc.Compute(ctx, Request{Symbol: "AAPL", TF: 60})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Times, 80)
	assert.Equal(t, 100, first.Limit)
	assert.Equal(t, []indicator.Name{indicator.NameSMA20, indicator.NameRSI, indicator.NameMACD}, first.Indicators.Names())

	second, err := f.svc.Compute(ctx, Request{Symbol: "AAPL", TF: 60})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, len(first.Indicators.RSI), len(second.Indicators.RSI))
	assert.Equal(t, first.Indicators.RSI[79], second.Indicators.RSI[79])
	assert.True(t, indicator.IsMissing(second.Indicators.RSI[0]))
	assert.True(t, first.Times[79].Equal(second.Times[79]))

	_, err = f.svc.Ingest(ctx, bars("AAPL", 60, 80, 150))
	require.NoError(t, err)
	third, err := f.svc.Compute(ctx, Request{Symbol: "AAPL", TF: 60})
	require.NoError(t, err)
	assert.False(t, third.Cached, "a newer bar must change the cache key")
	assert.Len(t, third.Times, 81)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.prom.RequestsTotal.WithLabelValues("cache")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.prom.RequestsTotal.WithLabelValues("compute")))
}

func TestCompute_RevisedBarsBypassCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	req := Request{Symbol: "AAPL", TF: 60}

	_, err := f.svc.Ingest(ctx, bars("AAPL", 60, 0, ramp(40)...))
	require.NoError(t, err)
	before, err := f.svc.Compute(ctx, req)
	require.NoError(t, err)
	warm, err := f.svc.Compute(ctx, req)
	require.NoError(t, err)
	require.True(t, warm.Cached)

	// Same timestamp as the newest stored bar, new close.
	_, err = f.svc.Ingest(ctx, bars("AAPL", 60, 39, 500))
	require.NoError(t, err)
	after, err := f.svc.Compute(ctx, req)
	require.NoError(t, err)
	assert.False(t, after.Cached, "revised latest bar must not hit the cache")
	assert.Len(t, after.Times, 40)
	assert.Equal(t, 500.0, after.Closes[39])
	assert.Greater(t, after.Indicators.SMA20[39], before.Indicators.SMA20[39])

	// Backfilling an older bar inside the window also invalidates.
	_, err = f.svc.Ingest(ctx, bars("AAPL", 60, 5, 1))
	require.NoError(t, err)
	backfilled, err := f.svc.Compute(ctx, req)
	require.NoError(t, err)
	assert.False(t, backfilled.Cached)
	assert.Equal(t, 1.0, backfilled.Closes[5])
}

func TestCompute_LimitClampedAndConfigResolution(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.Ingest(ctx, bars("MSFT", 300, 0, ramp(250)...))
	require.NoError(t, err)

	resp, err := f.svc.Compute(ctx, Request{Symbol: "MSFT", TF: 300, Limit: 10000, Preset: "volatility"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Limit)
	assert.Len(t, resp.Times, 200)
	assert.Equal(t, []indicator.Name{indicator.NameSMA20, indicator.NameBollinger}, resp.Indicators.Names())

	resp, err = f.svc.Compute(ctx, Request{Symbol: "MSFT", TF: 300, Limit: 50, Indicators: "ema12,rsi:7"})
	require.NoError(t, err)
	assert.Equal(t, []indicator.Name{indicator.NameEMA12, indicator.NameRSI}, resp.Indicators.Names())
	assert.Equal(t, 7, resp.Config.RSIPeriod)
	require.NotNil(t, resp.Summary.RSI)

	explicit := indicator.DefaultConfig()
	explicit.SMA50 = true
	resp, err = f.svc.Compute(ctx, Request{Symbol: "MSFT", TF: 300, Config: &explicit, Preset: "all"})
	require.NoError(t, err)
	assert.Equal(t, []indicator.Name{indicator.NameSMA50}, resp.Indicators.Names())
}

func TestCompute_CacheDownStillComputes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Ingest(ctx, bars("X", 60, 0, ramp(30)...))
	require.NoError(t, err)

	f.redis.Close()
	resp, err := f.svc.Compute(ctx, Request{Symbol: "X", TF: 60})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.prom.CacheErrors), 1.0)
}

func TestComputeBars(t *testing.T) {
	f := newFixture(t, false)
	cfg := indicator.DefaultConfig()
	cfg.Bollinger = true

	resp, err := f.svc.ComputeBars(bars("Y", 60, 0, ramp(25)...), cfg)
	require.NoError(t, err)
	assert.Equal(t, "Y", resp.Symbol)
	require.NotNil(t, resp.Indicators.Bollinger)
	assert.Len(t, resp.Indicators.Bollinger.Upper, 25)

	unordered := bars("Y", 60, 0, 1, 2, 3)
	unordered[0], unordered[2] = unordered[2], unordered[0]
	_, err = f.svc.ComputeBars(unordered, cfg)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	cfg.BollingerPeriod = 0
	_, err = f.svc.ComputeBars(bars("Y", 60, 0, 1, 2), cfg)
	assert.True(t, errors.Is(err, indicator.ErrInvalidParameter))
}

func TestIngest_ValidatesAndNotifiesLocally(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	var mu sync.Mutex
	var got []model.BarsUpdated
	f.svc.OnUpdate(func(u model.BarsUpdated) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})

	in := append(bars("A", 60, 0, 1, 2, 3), bars("B", 60, 0, 4)...)
	res, err := f.svc.Ingest(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Written)
	require.Len(t, res.Series, 2)
	assert.Equal(t, 3, res.Series[0].Count)
	assert.True(t, res.Series[0].LastTS.Equal(in[2].TS))

	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()
	assert.Equal(t, 4.0, testutil.ToFloat64(f.prom.BarsIngested))

	bad := bars("A", 60, 0, 1)
	bad[0].Close = math.NaN()
	_, err = f.svc.Ingest(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = f.svc.Ingest(ctx, nil)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestIngest_BackfillReportsSeriesLastBar(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	latest := bars("A", 60, 0, ramp(10)...)
	_, err := f.svc.Ingest(ctx, latest)
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, bars("A", 60, 2, 42))
	require.NoError(t, err)
	require.Len(t, res.Series, 1)
	assert.Equal(t, 1, res.Series[0].Count)
	assert.True(t, res.Series[0].LastTS.Equal(latest[9].TS), "got %v", res.Series[0].LastTS)
}

func TestIngest_PublishesThroughCache(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.BarsUpdated, 1)
	f.svc.OnUpdate(func(u model.BarsUpdated) { got <- u })
	stop, err := f.cache.SubscribeUpdates(ctx, f.svc.Notify)
	require.NoError(t, err)
	defer stop()

	_, err = f.svc.Ingest(ctx, bars("AAPL", 60, 0, 1, 2))
	require.NoError(t, err)

	select {
	case u := <-got:
		assert.Equal(t, "AAPL", u.Symbol)
		assert.Equal(t, 2, u.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered over pub/sub")
	}
}

func TestNew_RejectsInvalidDefault(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.RSI = true
	cfg.RSIPeriod = -1
	_, err := New(Options{Reader: stubReader{}, DefaultConfig: cfg})
	assert.True(t, errors.Is(err, indicator.ErrInvalidParameter))

	_, err = New(Options{DefaultConfig: indicator.DefaultConfig()})
	assert.Error(t, err)
}

type stubReader struct{}

func (stubReader) ReadBars(context.Context, string, int, int) ([]model.Bar, error) {
	return nil, model.ErrNoBars
}

func (stubReader) Symbols(context.Context) ([]model.SeriesInfo, error) { return nil, nil }
