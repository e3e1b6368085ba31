// Package notification raises alerts when a series' RSI or MACD signal
// changes and delivers them to external channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert is one signal change on one series.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	Symbol    string    `json:"symbol"`
	TF        int       `json:"tf"`
	Indicator string    `json:"indicator"` // rsi | macd
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     float64   `json:"value"`
	BarTS     time.Time `json:"bar_ts"`
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier logs to l, or the default logger when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, "signal alert",
		slog.String("level", string(alert.Level)),
		slog.String("title", alert.Title),
		slog.String("symbol", alert.Symbol),
		slog.Int("tf", alert.TF),
		slog.String("from", alert.From),
		slog.String("to", alert.To))
	return nil
}

// Multi sends every alert to each notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
