// Command squib-collector-traffic is a built-in collector: it prints
// per-interface traffic meters to stdout once per tick, for squibd to
// supervise.
package main

import (
	"github.com/mcrewson/squibd/internal/collector/traffic"
	"github.com/mcrewson/squibd/internal/collectorcmd"
)

func main() {
	collectorcmd.Run(traffic.New().Tick)
}
