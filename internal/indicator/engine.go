package indicator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"indicator-engine/internal/model"
)

// Config selects which indicators CalculateAll computes and with what
// parameters. Always start from DefaultConfig; zero values are not defaults.
type Config struct {
	SMA20     bool `json:"sma20" yaml:"sma20"`
	SMA50     bool `json:"sma50" yaml:"sma50"`
	SMA200    bool `json:"sma200" yaml:"sma200"`
	EMA12     bool `json:"ema12" yaml:"ema12"`
	EMA26     bool `json:"ema26" yaml:"ema26"`
	RSI       bool `json:"rsi" yaml:"rsi"`
	MACD      bool `json:"macd" yaml:"macd"`
	Bollinger bool `json:"bollinger" yaml:"bollinger"`

	RSIPeriod       int     `json:"rsiPeriod" yaml:"rsiPeriod"`
	RSIOverbought   float64 `json:"rsiOverbought" yaml:"rsiOverbought"`
	RSIOversold     float64 `json:"rsiOversold" yaml:"rsiOversold"`
	MACDFast        int     `json:"macdFast" yaml:"macdFast"`
	MACDSlow        int     `json:"macdSlow" yaml:"macdSlow"`
	MACDSignal      int     `json:"macdSignal" yaml:"macdSignal"`
	BollingerPeriod int     `json:"bollingerPeriod" yaml:"bollingerPeriod"`
	BollingerStdDev float64 `json:"bollingerStdDev" yaml:"bollingerStdDev"`
}

// RSI thresholds used by DefaultConfig.
const (
	DefaultRSIOverbought = 70.0
	DefaultRSIOversold   = 30.0
)

// DefaultConfig returns a config with every indicator disabled and every
// parameter set to its default.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       DefaultRSIPeriod,
		RSIOverbought:   DefaultRSIOverbought,
		RSIOversold:     DefaultRSIOversold,
		MACDFast:        DefaultMACDFast,
		MACDSlow:        DefaultMACDSlow,
		MACDSignal:      DefaultMACDSignal,
		BollingerPeriod: DefaultBollingerPeriod,
		BollingerStdDev: DefaultBollingerStdDev,
	}
}

// Validate reports every invalid parameter of the enabled indicators. Each
// joined error wraps ErrInvalidParameter.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameter}, args...)...))
	}

	if c.RSI {
		if c.RSIPeriod <= 0 {
			bad("rsiPeriod must be positive, got %d", c.RSIPeriod)
		}
		if math.IsNaN(c.RSIOverbought) || math.IsNaN(c.RSIOversold) ||
			c.RSIOversold < 0 || c.RSIOverbought > 100 || c.RSIOversold >= c.RSIOverbought {
			bad("rsi thresholds need 0 <= oversold < overbought <= 100, got oversold=%v overbought=%v",
				c.RSIOversold, c.RSIOverbought)
		}
	}
	if c.MACD {
		if c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0 {
			bad("macd periods must be positive, got fast=%d slow=%d signal=%d", c.MACDFast, c.MACDSlow, c.MACDSignal)
		} else if c.MACDFast >= c.MACDSlow {
			bad("macdFast (%d) must be shorter than macdSlow (%d)", c.MACDFast, c.MACDSlow)
		}
	}
	if c.Bollinger {
		if c.BollingerPeriod <= 0 {
			bad("bollingerPeriod must be positive, got %d", c.BollingerPeriod)
		}
		if !(c.BollingerStdDev > 0) || math.IsInf(c.BollingerStdDev, 0) {
			bad("bollingerStdDev must be positive, got %v", c.BollingerStdDev)
		}
	}
	return errors.Join(errs...)
}

// Enabled lists the enabled indicators in display order.
func (c Config) Enabled() []Name {
	flags := map[Name]bool{
		NameSMA20: c.SMA20, NameSMA50: c.SMA50, NameSMA200: c.SMA200,
		NameEMA12: c.EMA12, NameEMA26: c.EMA26,
		NameRSI: c.RSI, NameMACD: c.MACD, NameBollinger: c.Bollinger,
	}
	var out []Name
	for _, n := range AllNames {
		if flags[n] {
			out = append(out, n)
		}
	}
	return out
}

// Enable switches on the named indicator.
func (c *Config) Enable(name Name) error {
	switch name {
	case NameSMA20:
		c.SMA20 = true
	case NameSMA50:
		c.SMA50 = true
	case NameSMA200:
		c.SMA200 = true
	case NameEMA12:
		c.EMA12 = true
	case NameEMA26:
		c.EMA26 = true
	case NameRSI:
		c.RSI = true
	case NameMACD:
		c.MACD = true
	case NameBollinger:
		c.Bollinger = true
	default:
		return fmt.Errorf("%w: unknown indicator %q", ErrInvalidParameter, name)
	}
	return nil
}

// Key returns a canonical string for the parameters that affect output.
// Parameters of disabled indicators are left out so equivalent configs share
// a key.
func (c Config) Key() string {
	var sb strings.Builder
	for i, n := range c.Enabled() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(n))
		switch n {
		case NameRSI:
			sb.WriteString(":" + strconv.Itoa(c.RSIPeriod))
		case NameMACD:
			sb.WriteString(":" + strconv.Itoa(c.MACDFast) + ":" + strconv.Itoa(c.MACDSlow) + ":" + strconv.Itoa(c.MACDSignal))
		case NameBollinger:
			sb.WriteString(":" + strconv.Itoa(c.BollingerPeriod) + ":" + strconv.FormatFloat(c.BollingerStdDev, 'g', -1, 64))
		}
	}
	return sb.String()
}

// Bundle is the result of CalculateAll. Fields of indicators that were not
// enabled are nil.
type Bundle struct {
	SMA20     Series
	SMA50     Series
	SMA200    Series
	EMA12     Series
	EMA26     Series
	RSI       Series
	MACD      *MACDResult
	Bollinger *BollingerResult
}

// Names lists the indicators present in the bundle, in display order.
func (b Bundle) Names() []Name {
	var out []Name
	for _, n := range AllNames {
		if b.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Has reports whether the named indicator is present.
func (b Bundle) Has(name Name) bool {
	switch name {
	case NameSMA20:
		return b.SMA20 != nil
	case NameSMA50:
		return b.SMA50 != nil
	case NameSMA200:
		return b.SMA200 != nil
	case NameEMA12:
		return b.EMA12 != nil
	case NameEMA26:
		return b.EMA26 != nil
	case NameRSI:
		return b.RSI != nil
	case NameMACD:
		return b.MACD != nil
	case NameBollinger:
		return b.Bollinger != nil
	}
	return false
}

// CalculateAll extracts closing prices from bars and computes every enabled
// indicator. The config is validated first, so either every requested
// indicator is returned or none is.
func CalculateAll(bars []model.Bar, cfg Config) (Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return Bundle{}, err
	}
	closes := Closes(bars)

	var b Bundle
	var err error
	sma := func(dst *Series, period int) {
		if err == nil {
			*dst, err = SMA(closes, period)
		}
	}
	ema := func(dst *Series, period int) {
		if err == nil {
			*dst, err = EMA(closes, period)
		}
	}

	if cfg.SMA20 {
		sma(&b.SMA20, 20)
	}
	if cfg.SMA50 {
		sma(&b.SMA50, 50)
	}
	if cfg.SMA200 {
		sma(&b.SMA200, 200)
	}
	if cfg.EMA12 {
		ema(&b.EMA12, 12)
	}
	if cfg.EMA26 {
		ema(&b.EMA26, 26)
	}
	if cfg.RSI && err == nil {
		b.RSI, err = RSI(closes, cfg.RSIPeriod)
	}
	if cfg.MACD && err == nil {
		var m MACDResult
		if m, err = MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal); err == nil {
			b.MACD = &m
		}
	}
	if cfg.Bollinger && err == nil {
		var bb BollingerResult
		if bb, err = Bollinger(closes, cfg.BollingerPeriod, cfg.BollingerStdDev); err == nil {
			b.Bollinger = &bb
		}
	}
	if err != nil {
		return Bundle{}, err
	}
	return b, nil
}
