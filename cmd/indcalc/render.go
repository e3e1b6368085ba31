package main

import (
	"fmt"
	"io"
	"strings"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/model"
	"indicator-engine/internal/service"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	timeStyle    = lipgloss.NewStyle().Padding(0, 1)
	bullishStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	bearishStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	neutralStyle = lipgloss.NewStyle().Faint(true)
)

type column struct {
	header string
	values indicator.Series
}

// columns lists the close plus every computed output, in display order.
func columns(resp *service.Response) []column {
	cols := []column{{header: "Close", values: resp.Closes}}
	b := resp.Indicators
	label := func(n indicator.Name) string {
		if d, ok := indicator.Describe(n); ok {
			return d.Label
		}
		return string(n)
	}
	for _, n := range b.Names() {
		switch n {
		case indicator.NameSMA20:
			cols = append(cols, column{label(n), b.SMA20})
		case indicator.NameSMA50:
			cols = append(cols, column{label(n), b.SMA50})
		case indicator.NameSMA200:
			cols = append(cols, column{label(n), b.SMA200})
		case indicator.NameEMA12:
			cols = append(cols, column{label(n), b.EMA12})
		case indicator.NameEMA26:
			cols = append(cols, column{label(n), b.EMA26})
		case indicator.NameRSI:
			cols = append(cols, column{fmt.Sprintf("RSI %d", resp.Config.RSIPeriod), b.RSI})
		case indicator.NameMACD:
			cols = append(cols,
				column{"MACD", b.MACD.MACD},
				column{"Signal", b.MACD.Signal},
				column{"Hist", b.MACD.Histogram})
		case indicator.NameBollinger:
			cols = append(cols,
				column{"BB Upper", b.Bollinger.Upper},
				column{"BB Mid", b.Bollinger.Middle},
				column{"BB Lower", b.Bollinger.Lower})
		}
	}
	return cols
}

// renderTable writes the last rows bars of resp as a table followed by the
// momentum summary. rows <= 0 prints every bar.
func renderTable(w io.Writer, resp *service.Response, rows int) {
	n := len(resp.Times)
	from := 0
	if rows > 0 && rows < n {
		from = n - rows
	}
	cols := columns(resp)

	headers := []string{"Time"}
	for _, c := range cols {
		headers = append(headers, c.header)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return timeStyle
			}
			return cellStyle
		})
	for i := from; i < n; i++ {
		cells := []string{resp.Times[i].Format("2006-01-02 15:04:05")}
		for _, c := range cols {
			cells = append(cells, indicator.FormatValue(c.values[i]))
		}
		t.Row(cells...)
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s %s  %d bars  [%s]",
		resp.Symbol, model.TFLabel(resp.TF), n, resp.Config.Key())))
	fmt.Fprintln(w, t.Render())
	if s := summaryLines(resp.Summary); len(s) > 0 {
		fmt.Fprintln(w, strings.Join(s, "\n"))
	}
}

func summaryLines(s indicator.Summary) []string {
	var out []string
	if s.RSI != nil {
		out = append(out, fmt.Sprintf("RSI   %s  %s", s.RSI.Formatted, styleSignal(string(s.RSI.Signal))))
	}
	if s.MACD != nil {
		out = append(out, fmt.Sprintf("MACD  %s / %s  hist %s  %s",
			s.MACD.FormattedMACD, s.MACD.FormattedSig, s.MACD.FormattedHist, styleSignal(string(s.MACD.Trend))))
	}
	return out
}

func styleSignal(sig string) string {
	switch sig {
	case string(indicator.MACDBullish), string(indicator.RSIOversold):
		return bullishStyle.Render(sig)
	case string(indicator.MACDBearish), string(indicator.RSIOverbought):
		return bearishStyle.Render(sig)
	}
	return neutralStyle.Render(sig)
}
