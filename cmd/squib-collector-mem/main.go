// Command squib-collector-mem is a built-in collector: it prints memory
// usage gauges to stdout once per tick, for squibd to supervise.
package main

import (
	"github.com/mcrewson/squibd/internal/collector/mem"
	"github.com/mcrewson/squibd/internal/collectorcmd"
)

func main() {
	collectorcmd.Run(mem.Tick)
}
