// Package collectorcmd is the shared main() body for every built-in
// squib-collector-* binary: read the tick period from the environment,
// run until a termination signal, and exit nonzero on a read failure.
package collectorcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcrewson/squibd/internal/collector"
)

// PeriodEnv names the environment variable squibd sets (from the
// oxidizer's configured "period" option) before launching a built-in
// collector binary.
const PeriodEnv = "SQUIB_COLLECTOR_PERIOD"

// Run drives tick on the configured period until SIGTERM/SIGINT, writing
// batches to stdout. If a tick or write fails it prints the error to
// stderr and calls os.Exit(1); once a signal cancels the run it returns.
func Run(tick collector.Tick) {
	period := DefaultPeriod()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := collector.Run(ctx, period, os.Stdout, tick); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// DefaultPeriod reads PeriodEnv, falling back to collector.DefaultPeriod
// on an empty or unparsable value.
func DefaultPeriod() time.Duration {
	if v := os.Getenv(PeriodEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return collector.DefaultPeriod
}
