// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/jouletrack/jouletrack/internal/monitor"
	"github.com/jouletrack/jouletrack/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.Service
)

// Exporter writes periodic counter tables to stdout.
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	ticker   time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts returns a new Opts with defaults set.
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default().With("service", "stdout"),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function that sets an option in the Opts struct.
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(pm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  pm,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	e.ticker = *time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-e.ticker.C:
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				e.logger.Error("Failed to collect counter data", "error", err)
				return nil
			}
			write(e.out, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, snapshot *monitor.Snapshot) {
	writeCounters(out, snapshot)
	if len(snapshot.Domains) > 0 {
		writeDomains(out, snapshot)
	}
}

func writeCounters(out io.Writer, snapshot *monitor.Snapshot) {
	rows := [][]string{}
	// snapshot counters are already sorted by id
	for _, c := range snapshot.Counters {
		rows = append(rows, []string{
			c.ID,
			c.Domain,
			fmt.Sprintf("%.6f", c.Joules),
			fmt.Sprintf("%d", c.Wraparounds),
		})
	}
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Counter", "Domain", "Energy(J)", "Wraparounds"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writeDomains(out io.Writer, snapshot *monitor.Snapshot) {
	rows := [][]string{}
	for _, d := range snapshot.Domains {
		rows = append(rows, []string{
			d.Domain,
			fmt.Sprintf("%.6f", d.Joules),
		})
	}
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"RAPL Domain", "Energy(J)"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
