// Command indcalc computes indicators offline from the bar store or a CSV
// file and prints them as a table or JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/model"
	"indicator-engine/internal/presets"
	"indicator-engine/internal/service"
	sqlitestore "indicator-engine/internal/store/sqlite"

	"github.com/urfave/cli/v3"
)

const (
	defaultIndicators = "sma20,rsi,macd"
	maxBars           = 1_000_000
)

// options are the parsed flags of one run.
type options struct {
	db, csv     string
	symbol      string
	tf          int
	limit       int // 0 reads every bar
	indicators  string
	preset      string
	presetsFile string
	rows        int
	asJSON      bool
	logLevel    string
}

func calcAction(ctx context.Context, cmd *cli.Command) error {
	tf, err := model.ParseTF(cmd.String("tf"))
	if err != nil {
		return fmt.Errorf("--tf: %w", err)
	}
	opts := options{
		db:          cmd.String("db"),
		csv:         cmd.String("csv"),
		symbol:      cmd.String("symbol"),
		tf:          tf,
		limit:       int(cmd.Int("limit")),
		indicators:  cmd.String("indicators"),
		preset:      cmd.String("preset"),
		presetsFile: cmd.String("presets-file"),
		rows:        int(cmd.Int("rows")),
		asJSON:      cmd.Bool("json"),
		logLevel:    cmd.String("log-level"),
	}
	return run(ctx, opts, os.Stdout)
}

func run(ctx context.Context, opts options, out io.Writer) error {
	logger.InitWriter(os.Stderr, "indcalc", logger.ParseLevel(opts.logLevel))

	reader, closeFn, err := openSource(opts)
	if err != nil {
		return err
	}
	defer closeFn()

	registry := presets.Builtin()
	if opts.presetsFile != "" {
		if registry, err = presets.Load(opts.presetsFile); err != nil {
			return err
		}
	}
	defaults, err := indicator.ParseSpecs(defaultIndicators, indicator.DefaultConfig())
	if err != nil {
		return err
	}

	limit := opts.limit
	if limit <= 0 {
		limit = maxBars
	}
	svc, err := service.New(service.Options{
		Reader:        reader,
		Presets:       registry,
		DefaultConfig: defaults,
		MaxLimit:      maxBars,
	})
	if err != nil {
		return err
	}
	resp, err := svc.Compute(ctx, service.Request{
		Symbol:     opts.symbol,
		TF:         opts.tf,
		Limit:      limit,
		Preset:     opts.preset,
		Indicators: opts.indicators,
	})
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	renderTable(out, resp, opts.rows)
	return nil
}

// openSource returns the bars to compute over: the CSV file when given,
// the SQLite store otherwise.
func openSource(opts options) (model.BarReader, func() error, error) {
	if opts.csv != "" {
		f, err := os.Open(opts.csv)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		bars, err := readCSV(f, opts.symbol, opts.tf)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", opts.csv, err)
		}
		return memReader{bars: bars}, func() error { return nil }, nil
	}
	if _, err := os.Stat(opts.db); err != nil {
		return nil, nil, fmt.Errorf("bar store: %w", err)
	}
	r, err := sqlitestore.NewReader(opts.db)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func main() {
	cmd := &cli.Command{
		Name:  "indcalc",
		Usage: "Compute technical indicators over stored or CSV bars",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the SQLite bar store",
				Value:   "data/bars.db",
				Sources: cli.EnvVars("SQLITE_PATH"),
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Read bars from a CSV file (header: ts,open,high,low,close,volume) instead of the store",
			},
			&cli.StringFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Series symbol",
				Value:   "CSV",
			},
			&cli.StringFlag{
				Name:  "tf",
				Usage: "Timeframe as seconds or with a unit, e.g. `5m`",
				Value: "1m",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Most recent bars to compute over (0 = all)",
				Value:   500,
			},
			&cli.StringFlag{
				Name:    "indicators",
				Aliases: []string{"i"},
				Usage:   "Indicator specs, e.g. `sma20,rsi:14,macd:12:26:9,bollinger:20:2`",
			},
			&cli.StringFlag{
				Name:    "preset",
				Aliases: []string{"p"},
				Usage:   "Named indicator preset (trend, momentum, volatility, all)",
			},
			&cli.StringFlag{
				Name:  "presets-file",
				Usage: "YAML file of named presets",
			},
			&cli.IntFlag{
				Name:  "rows",
				Usage: "Rows to print (0 = all)",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full response as JSON",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level for stderr",
				Value: "warn",
			},
		},
		Action: calcAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
