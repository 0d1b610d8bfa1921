// Package collector implements the standalone-binary side of squibd's
// collector contract: read a host facility on a fixed period and print
// metric lines to stdout, exactly as any third-party collector the
// supervisor launches would.
package collector

import (
	"bufio"
	"context"
	"io"
	"time"
)

// DefaultPeriod is used when a collector's environment carries no
// SQUIB_COLLECTOR_PERIOD override, matching the original oxidizers'
// default_period of 10 seconds.
const DefaultPeriod = 10 * time.Second

// Tick renders one batch of metric lines to w.
type Tick func(w io.Writer) error

// Run calls tick once immediately, flushes, then again every period until
// ctx is done. w is wrapped in a bufio.Writer so a Tick can Fprintf
// repeatedly without a syscall per line; each round is flushed before the
// next sleep, mirroring the original oxidizers' explicit stdout.flush()
// after every batch.
func Run(ctx context.Context, period time.Duration, w io.Writer, tick Tick) error {
	buf := bufio.NewWriter(w)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := tick(buf); err != nil {
			return err
		}
		if err := buf.Flush(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
