// Package tcpsockets implements the "tcpsockets" built-in collector:
// connection counts by TCP state from /proc/net/tcp and /proc/net/tcp6.
package tcpsockets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TCP state codes per include/net/tcp_states.h, in the order the kernel
// assigns them (the "st" column of /proc/net/tcp is this value in hex).
const (
	established = 0x01
	synSent     = 0x02
	synRecv     = 0x03
	finWait1    = 0x04
	finWait2    = 0x05
	timeWait    = 0x06
	closeState  = 0x07
	closeWait   = 0x08
	lastAck     = 0x09
	listen      = 0x0A
	closing     = 0x0B
)

var stateNames = map[int]string{
	established: "established",
	synSent:     "syn_sent",
	synRecv:     "syn_recv",
	finWait1:    "fin_wait1",
	finWait2:    "fin_wait2",
	timeWait:    "time_wait",
	closeState:  "close",
	closeWait:   "close_wait",
	lastAck:     "last_ack",
	listen:      "listen",
	closing:     "closed", // matches the original's "closed" label for CLOSING
}

// stateOrder fixes the report order to match the original oxidizer's
// fixed line sequence.
var stateOrder = []int{established, synSent, synRecv, finWait1, finWait2, timeWait, closeState, closeWait, lastAck, listen, closing}

// Tick counts sockets by state across /proc/net/tcp and /proc/net/tcp6
// and writes one gauge line per state.
func Tick(w io.Writer) error {
	counts := make(map[int]int, len(stateNames))

	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		if err := countStates(path, counts); err != nil {
			if os.IsNotExist(err) {
				continue // tcp6 may be absent on an IPv4-only host
			}
			return err
		}
	}

	for _, state := range stateOrder {
		if _, err := fmt.Fprintf(w, "tcpsockets.%s %d\n", stateNames[state], counts[state]); err != nil {
			return err
		}
	}
	return nil
}

func countStates(path string, counts map[int]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		state, err := strconv.ParseInt(fields[3], 16, 32)
		if err != nil {
			continue
		}
		if _, known := stateNames[int(state)]; known {
			counts[int(state)]++
		}
	}
	return scanner.Err()
}
