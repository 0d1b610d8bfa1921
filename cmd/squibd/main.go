// Command squibd is a host-resident metrics collection agent: it
// supervises collector child processes, parses their stdout into a
// metric registry, and periodically reports snapshots to sinks.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
