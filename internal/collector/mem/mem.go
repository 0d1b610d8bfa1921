// Package mem implements the "mem" built-in collector: gauges for
// total/free/buffers/cached/used memory read from /proc/meminfo.
package mem

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// the original reads the first four lines of /proc/meminfo positionally
// (MemTotal, MemFree, Buffers, Cached); we look the keys up by name
// instead, since positional reliance on /proc/meminfo's line order is
// fragile across kernel versions.
var wantedKeys = [4]string{"MemTotal", "MemFree", "Buffers", "Cached"}

// Tick reads /proc/meminfo and writes mem.total, mem.free, mem.buffers,
// mem.cached, and mem.used (total minus the other three) as gauges, in
// bytes.
func Tick(w io.Writer) error {
	values, err := readMeminfo()
	if err != nil {
		return err
	}

	total, free, buffers, cached := values[0], values[1], values[2], values[3]
	used := total - (free + buffers + cached)

	lines := []struct {
		name  string
		value uint64
	}{
		{"mem.total", total},
		{"mem.free", free},
		{"mem.buffers", buffers},
		{"mem.cached", cached},
		{"mem.used", used},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s %d\n", l.name, l.value); err != nil {
			return err
		}
	}
	return nil
}

func readMeminfo() ([4]uint64, error) {
	var out [4]uint64

	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return out, err
	}
	defer f.Close()

	found := make(map[string]uint64, len(wantedKeys))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, kb, ok := parseMeminfoLine(scanner.Text())
		if !ok {
			continue
		}
		found[key] = kb
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}

	for i, key := range wantedKeys {
		kb, ok := found[key]
		if !ok {
			return out, fmt.Errorf("mem: /proc/meminfo missing %s", key)
		}
		out[i] = kb * 1024
	}
	return out, nil
}

func parseMeminfoLine(line string) (key string, kb uint64, ok bool) {
	k, rest, found := strings.Cut(line, ":")
	if !found {
		return "", 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return k, v, true
}
