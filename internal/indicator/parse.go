package indicator

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSpecs enables indicators from a comma-separated spec string on top of
// base. Each entry is NAME or NAME:PARAM[:PARAM...]:
//
//	sma20,sma50,sma200,ema12,ema26
//	rsi[:period]
//	macd[:fast:slow:signal]
//	bollinger[:period[:stddev]]
//
// Example: "sma20,rsi:21,macd:8:21:5,bollinger:20:2.5".
// The returned config is validated.
func ParseSpecs(s string, base Config) (Config, error) {
	cfg := base
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Split(part, ":")
		name := Name(strings.ToLower(strings.TrimSpace(tokens[0])))
		params := tokens[1:]

		if err := cfg.Enable(name); err != nil {
			return Config{}, err
		}

		var err error
		switch name {
		case NameRSI:
			err = parseInts(part, params, &cfg.RSIPeriod)
		case NameMACD:
			if len(params) != 0 && len(params) != 3 {
				err = fmt.Errorf("%w: %q: macd takes fast:slow:signal", ErrInvalidParameter, part)
				break
			}
			err = parseInts(part, params, &cfg.MACDFast, &cfg.MACDSlow, &cfg.MACDSignal)
		case NameBollinger:
			if len(params) > 2 {
				err = fmt.Errorf("%w: %q: bollinger takes period[:stddev]", ErrInvalidParameter, part)
				break
			}
			if len(params) >= 1 {
				err = parseInts(part, params[:1], &cfg.BollingerPeriod)
			}
			if err == nil && len(params) == 2 {
				cfg.BollingerStdDev, err = strconv.ParseFloat(strings.TrimSpace(params[1]), 64)
				if err != nil {
					err = fmt.Errorf("%w: %q: %v", ErrInvalidParameter, part, err)
				}
			}
		default:
			if len(params) > 0 {
				err = fmt.Errorf("%w: %q: %s has a fixed period", ErrInvalidParameter, part, name)
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseInts(part string, params []string, dst ...*int) error {
	if len(params) > len(dst) {
		return fmt.Errorf("%w: %q: too many parameters", ErrInvalidParameter, part)
	}
	for i, p := range params {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidParameter, part, err)
		}
		*dst[i] = n
	}
	return nil
}
