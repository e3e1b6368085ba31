package indicator

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"indicator-engine/internal/model"
)

func makeBars(closes []float64) []model.Bar {
	start := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol: "TEST", TF: 60, TS: start.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		}
	}
	return bars
}

func TestCalculateAll_OnlyEnabledPresent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMA20 = true
	cfg.RSI = true

	b, err := CalculateAll(makeBars(wave(60)), cfg)
	if err != nil {
		t.Fatal(err)
	}
	names := b.Names()
	if len(names) != 2 || names[0] != NameSMA20 || names[1] != NameRSI {
		t.Fatalf("names = %v, want [sma20 rsi]", names)
	}
	if b.MACD != nil || b.Bollinger != nil || b.EMA12 != nil {
		t.Error("disabled indicators should be nil")
	}

	raw, _ := json.Marshal(b)
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("json keys = %d (%s), want 2", len(keys), raw)
	}
	if _, ok := keys["macd"]; ok {
		t.Error("macd should be absent from json")
	}
}

func TestCalculateAll_MatchesDirectCalls(t *testing.T) {
	prices := wave(250)
	cfg := DefaultConfig()
	for _, n := range AllNames {
		if err := cfg.Enable(n); err != nil {
			t.Fatal(err)
		}
	}
	b, err := CalculateAll(makeBars(prices), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(b.Names()); got != len(AllNames) {
		t.Fatalf("bundle has %d indicators, want %d", got, len(AllNames))
	}

	sma200, _ := SMA(prices, 200)
	ema26, _ := EMA(prices, 26)
	rsi, _ := RSI(prices, cfg.RSIPeriod)
	m, _ := MACD(prices, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	bb, _ := Bollinger(prices, cfg.BollingerPeriod, cfg.BollingerStdDev)

	for i := range prices {
		same := func(label string, a, b float64) {
			if !(a == b || (IsMissing(a) && IsMissing(b))) {
				t.Errorf("%s[%d]: %v != %v", label, i, a, b)
			}
		}
		same("sma200", b.SMA200[i], sma200[i])
		same("ema26", b.EMA26[i], ema26[i])
		same("rsi", b.RSI[i], rsi[i])
		same("macd", b.MACD.Histogram[i], m.Histogram[i])
		same("upper", b.Bollinger.Upper[i], bb.Upper[i])
	}
}

func TestCalculateAll_Idempotent(t *testing.T) {
	bars := makeBars(wave(120))
	cfg := DefaultConfig()
	cfg.EMA12, cfg.MACD, cfg.Bollinger = true, true, true

	a, err := CalculateAll(bars, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := CalculateAll(bars, cfg)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Error("CalculateAll is not deterministic")
	}
}

func TestCalculateAll_InvalidConfigReturnsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMA20 = true
	cfg.MACD = true
	cfg.MACDFast, cfg.MACDSlow = 26, 12

	b, err := CalculateAll(makeBars(wave(50)), cfg)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	if len(b.Names()) != 0 {
		t.Errorf("partial bundle returned: %v", b.Names())
	}
}

func TestCalculateAll_EmptyBars(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMA50, cfg.MACD = true, true
	b, err := CalculateAll(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Has(NameSMA50) || len(b.SMA50) != 0 {
		t.Errorf("sma50 = %v, want present and empty", b.SMA50)
	}
	raw, _ := json.Marshal(b)
	if !strings.Contains(string(raw), `"sma50":[]`) {
		t.Errorf("json = %s", raw)
	}
}

func TestConfigValidate_CollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RSI, cfg.Bollinger = true, true
	cfg.RSIPeriod = 0
	cfg.BollingerStdDev = -1
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "rsiPeriod") || !strings.Contains(msg, "bollingerStdDev") {
		t.Errorf("error should name both fields: %s", msg)
	}

	// Parameters of disabled indicators are not checked.
	off := DefaultConfig()
	off.MACDFast = 0
	if err := off.Validate(); err != nil {
		t.Errorf("disabled macd validated: %v", err)
	}
}

func TestConfigValidate_RSIThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RSI = true
	cfg.RSIOversold, cfg.RSIOverbought = 80, 20
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("inverted thresholds: err = %v", err)
	}
}

func TestConfigKey(t *testing.T) {
	a := DefaultConfig()
	a.SMA20, a.RSI = true, true
	b := a
	b.MACDFast = 3 // macd disabled, so no effect
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "sma20,rsi:14" {
		t.Errorf("key = %q", a.Key())
	}
	b.RSIPeriod = 21
	if a.Key() == b.Key() {
		t.Error("rsi period should change the key")
	}
}

func TestConfigJSONStartsFromDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(`{"rsi":true,"rsiPeriod":21}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.RSI || cfg.RSIPeriod != 21 || cfg.RSIOverbought != DefaultRSIOverbought || cfg.MACDSlow != DefaultMACDSlow {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseSpecs(t *testing.T) {
	cfg, err := ParseSpecs("sma20, rsi:21,macd:8:21:5,bollinger:20:2.5", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.SMA20 || !cfg.RSI || !cfg.MACD || !cfg.Bollinger || cfg.SMA50 {
		t.Errorf("enabled = %v", cfg.Enabled())
	}
	if cfg.RSIPeriod != 21 || cfg.MACDFast != 8 || cfg.MACDSlow != 21 || cfg.MACDSignal != 5 {
		t.Errorf("periods = %+v", cfg)
	}
	if cfg.BollingerPeriod != 20 || cfg.BollingerStdDev != 2.5 {
		t.Errorf("bollinger = %d/%v", cfg.BollingerPeriod, cfg.BollingerStdDev)
	}

	cfg, err = ParseSpecs("RSI,bollinger:30", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RSIPeriod != DefaultRSIPeriod || cfg.BollingerPeriod != 30 || cfg.BollingerStdDev != DefaultBollingerStdDev {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestParseSpecs_Errors(t *testing.T) {
	for _, s := range []string{
		"vwap",
		"sma20:5",
		"rsi:abc",
		"rsi:0",
		"macd:12:26",
		"macd:26:12:9",
		"bollinger:20:x",
		"bollinger:20:2:1",
	} {
		if _, err := ParseSpecs(s, DefaultConfig()); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%q: err = %v, want ErrInvalidParameter", s, err)
		}
	}
}

func TestSeriesJSON_MissingAsNull(t *testing.T) {
	s := Series{nan, 1.5, nan, 3}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "[null,1.5,null,3]" {
		t.Errorf("json = %s", raw)
	}
	var back Series
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "round trip", back, []float64{nan, 1.5, nan, 3}, 0)
}

func TestBundleJSON_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMA20, cfg.MACD = true, true
	b, _ := CalculateAll(makeBars(wave(40)), cfg)
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var back Bundle
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Names()) != 2 || back.MACD == nil {
		t.Fatalf("names = %v", back.Names())
	}
	assertSeries(t, "sma20", back.SMA20, b.SMA20, 0)
	assertSeries(t, "histogram", back.MACD.Histogram, b.MACD.Histogram, 0)
}

// ────────────────────────────────────────────────────────────
// Presentation helpers
// ────────────────────────────────────────────────────────────

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{1234.5, "1234"},
		{45.678, "45.68"},
		{nan, "--"},
		{150.25, "150.2"},
		{-250.0, "-250.0"},
		{1.23456, "1.235"},
		{0, "0.000"},
		{-12.5, "-12.50"},
	}
	for _, c := range cases {
		if got := FormatValue(c.in); got != c.want {
			t.Errorf("FormatValue(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestClassifyRSI(t *testing.T) {
	cases := []struct {
		in   float64
		want RSISignal
	}{
		{75, RSIOverbought},
		{70, RSIOverbought},
		{25, RSIOversold},
		{30, RSIOversold},
		{50, RSINeutral},
		{nan, RSINeutral},
	}
	for _, c := range cases {
		if got := ClassifyRSI(c.in, 70, 30); got != c.want {
			t.Errorf("ClassifyRSI(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestClassifyMACD(t *testing.T) {
	if got := ClassifyMACD(1, 0.5); got != MACDBullish {
		t.Errorf("got %s", got)
	}
	if got := ClassifyMACD(-1, 0.5); got != MACDBearish {
		t.Errorf("got %s", got)
	}
	if got := ClassifyMACD(0.5, 0.5); got != MACDNeutral {
		t.Errorf("got %s", got)
	}
	if got := ClassifyMACD(nan, 0.5); got != MACDNeutral {
		t.Errorf("got %s", got)
	}
}

func TestSummarize(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	cfg := DefaultConfig()
	cfg.RSI, cfg.MACD = true, true
	b, err := CalculateAll(makeBars(prices), cfg)
	if err != nil {
		t.Fatal(err)
	}
	s := Summarize(b, cfg)
	if s.RSI == nil || s.RSI.Signal != RSIOverbought || s.RSI.Index != 39 {
		t.Errorf("rsi summary = %+v", s.RSI)
	}
	if s.MACD == nil || s.MACD.Index != 39 || s.MACD.Histogram != b.MACD.Histogram[39] {
		t.Errorf("macd summary = %+v", s.MACD)
	}

	// Not warmed up: no sections.
	short, _ := CalculateAll(makeBars(prices[:5]), cfg)
	if s := Summarize(short, cfg); s.RSI != nil || s.MACD != nil {
		t.Errorf("short summary = %+v", s)
	}
}

func TestDescriptions(t *testing.T) {
	ds := Descriptions()
	if len(ds) != len(AllNames) {
		t.Fatalf("len = %d", len(ds))
	}
	for i, d := range ds {
		if d.Name != AllNames[i] || d.FullName == "" {
			t.Errorf("description %d = %+v", i, d)
		}
	}
	ds[0].Label = "changed"
	if d, _ := Describe(NameSMA20); d.Label != "SMA 20" {
		t.Error("Descriptions should return a copy")
	}
}
