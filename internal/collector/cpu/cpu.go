// Package cpu implements the "cpu" built-in collector: per-tick CPU time
// breakdown percentages read from /proc/stat.
package cpu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// fields mirrors the first line of /proc/stat after the leading "cpu"
// token: user, nice, system, idle, iowait, irq, softirq.
type fields [7]uint64

var fieldNames = [7]string{"user", "nice", "system", "idle", "iowait", "irq", "softirq"}

// Collector tracks the previous /proc/stat sample so each tick can report
// the percentage of the interval spent in each state.
type Collector struct {
	prev    fields
	hasPrev bool
}

func New() *Collector { return &Collector{} }

// Tick reads the current cumulative counters, diffs against the prior
// sample, and writes one gauge line per state as a percentage of the
// interval. The first call only seeds prev and emits nothing, since there
// is no prior sample to diff against.
func (c *Collector) Tick(w io.Writer) error {
	cur, err := readCPU()
	if err != nil {
		return err
	}
	if !c.hasPrev {
		c.prev = cur
		c.hasPrev = true
		return nil
	}

	var diff [7]float64
	var total float64
	for i := range diff {
		diff[i] = float64(cur[i] - c.prev[i])
		total += diff[i]
	}
	c.prev = cur

	if total <= 0 {
		return nil
	}
	for i, name := range fieldNames {
		if _, err := fmt.Fprintf(w, "cpu.%s %.2f\n", name, diff[i]/total*100); err != nil {
			return err
		}
	}
	return nil
}

func readCPU() (fields, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return fields{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return fields{}, fmt.Errorf("cpu: /proc/stat is empty")
	}
	parts := strings.Fields(scanner.Text())
	if len(parts) < 8 || parts[0] != "cpu" {
		return fields{}, fmt.Errorf("cpu: unexpected /proc/stat format: %q", scanner.Text())
	}

	var out fields
	for i := range out {
		v, err := strconv.ParseUint(parts[i+1], 10, 64)
		if err != nil {
			return fields{}, fmt.Errorf("cpu: parsing /proc/stat field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
