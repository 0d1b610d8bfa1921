// Command squib-collector-tcpsockets is a built-in collector: it prints
// TCP connection counts by state to stdout once per tick, for squibd to
// supervise.
package main

import (
	"github.com/mcrewson/squibd/internal/collector/tcpsockets"
	"github.com/mcrewson/squibd/internal/collectorcmd"
)

func main() {
	collectorcmd.Run(tcpsockets.Tick)
}
