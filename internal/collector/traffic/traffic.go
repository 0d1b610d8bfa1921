// Package traffic implements the "traffic" built-in collector: per-interface
// counters from /proc/net/dev, reported as meter deltas.
package traffic

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type ifaceCounters struct {
	rbytes, rpackets, rerrors, rdrops uint64
	tbytes, tpackets, terrors, tdrops uint64
}

// Collector tracks the previous sample per interface so each tick can
// report meter deltas rather than raw cumulative counters.
type Collector struct {
	prev map[string]ifaceCounters
}

func New() *Collector { return &Collector{prev: make(map[string]ifaceCounters)} }

// Tick reads /proc/net/dev and, for every interface other than loopback,
// emits an rbytes/rpackets/rerrors/rdrops/tbytes/tpackets/terrors/tdrops
// meter line carrying the delta since the previous sample. An interface
// seen for the first time is seeded but emits nothing this round.
func (c *Collector) Tick(w io.Writer) error {
	cur, err := readNetDev()
	if err != nil {
		return err
	}

	for iface, counters := range cur {
		prev, ok := c.prev[iface]
		if !ok {
			continue
		}
		deltas := []struct {
			name string
			d    uint64
		}{
			{"rbytes", counters.rbytes - prev.rbytes},
			{"rpackets", counters.rpackets - prev.rpackets},
			{"rerrors", counters.rerrors - prev.rerrors},
			{"rdrops", counters.rdrops - prev.rdrops},
			{"tbytes", counters.tbytes - prev.tbytes},
			{"tpackets", counters.tpackets - prev.tpackets},
			{"terrors", counters.terrors - prev.terrors},
			{"tdrops", counters.tdrops - prev.tdrops},
		}
		for _, delta := range deltas {
			if _, err := fmt.Fprintf(w, "traffic.%s.%s meter +%d\n", iface, delta.name, delta.d); err != nil {
				return err
			}
		}
	}
	c.prev = cur
	return nil
}

func readNetDev() (map[string]ifaceCounters, error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]ifaceCounters)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue // header lines
		}
		iface, counters, ok := parseNetDevLine(scanner.Text())
		if !ok || iface == "lo" {
			continue
		}
		out[iface] = counters
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseNetDevLine(line string) (iface string, counters ifaceCounters, ok bool) {
	name, rest, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return "", ifaceCounters{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) < 16 {
		return "", ifaceCounters{}, false
	}

	vals := make([]uint64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return "", ifaceCounters{}, false
		}
		vals[i] = v
	}

	return strings.TrimSpace(name), ifaceCounters{
		rbytes: vals[0], rpackets: vals[1], rerrors: vals[2], rdrops: vals[3],
		tbytes: vals[8], tpackets: vals[9], terrors: vals[10], tdrops: vals[11],
	}, true
}
