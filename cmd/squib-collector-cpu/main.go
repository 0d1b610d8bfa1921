// Command squib-collector-cpu is a built-in collector: it prints CPU
// utilization gauges to stdout once per tick, for squibd to supervise.
package main

import (
	"github.com/mcrewson/squibd/internal/collector/cpu"
	"github.com/mcrewson/squibd/internal/collectorcmd"
)

func main() {
	collectorcmd.Run(cpu.New().Tick)
}
