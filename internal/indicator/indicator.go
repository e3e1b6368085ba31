// Package indicator computes technical indicators over a closing-price series.
//
// Every function is a pure transform: it never mutates its input and always
// returns a Series of the same length as the input. Samples inside an
// indicator's warm-up window hold the missing sentinel (see IsMissing) so that
// index i of every output lines up with index i of the input bars.
package indicator

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is wrapped by every configuration error (non-positive
// period, unsupported parameter combination).
var ErrInvalidParameter = errors.New("invalid indicator parameter")

// Name identifies an indicator inside a Bundle.
type Name string

const (
	NameSMA20     Name = "sma20"
	NameSMA50     Name = "sma50"
	NameSMA200    Name = "sma200"
	NameEMA12     Name = "ema12"
	NameEMA26     Name = "ema26"
	NameRSI       Name = "rsi"
	NameMACD      Name = "macd"
	NameBollinger Name = "bollinger"
)

// AllNames lists every indicator the dispatcher knows, in display order.
var AllNames = []Name{
	NameSMA20, NameSMA50, NameSMA200,
	NameEMA12, NameEMA26,
	NameRSI, NameMACD, NameBollinger,
}

func invalidPeriod(fn string, period int) error {
	return fmt.Errorf("%w: %s period must be positive, got %d", ErrInvalidParameter, fn, period)
}
