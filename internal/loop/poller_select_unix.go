//go:build unix && !linux && !darwin

package loop

import (
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
)

// wordBits is the bit width of one unix.FdSet.Bits element, which varies
// by platform (int32 on some 32-bit targets, int64 elsewhere).
var wordBits = int(unsafe.Sizeof(unix.FdSet{}.Bits[0])) * 8

// selectPoller is the final-tier fallback Poller, built on select(2) for
// platforms without a more specific poller implementation (e.g. the BSDs
// other than Darwin). It is O(n) per Wait call and limited by FD_SETSIZE,
// acceptable only because the agent multiplexes a small, bounded number of
// child pipes and listening sockets.
type selectPoller struct {
	regs map[int]*selectReg
}

type selectReg struct {
	events IOEvent
	cb     IOCallback
}

func newSelectPoller() Poller {
	return &selectPoller{regs: make(map[int]*selectReg)}
}

func (p *selectPoller) Add(fd int, events IOEvent, cb IOCallback) error {
	p.regs[fd] = &selectReg{events: events, cb: cb}
	return nil
}

func (p *selectPoller) Modify(fd int, events IOEvent) error {
	reg, ok := p.regs[fd]
	if !ok {
		return nil
	}
	reg.events = events
	return nil
}

func (p *selectPoller) Remove(fd int) error {
	delete(p.regs, fd)
	return nil
}

func (p *selectPoller) Wait(timeoutMs int) (int, error) {
	var rset, wset unix.FdSet
	maxFd := -1
	fds := make([]int, 0, len(p.regs))
	for fd, reg := range p.regs {
		fds = append(fds, fd)
		if reg.events&EventRead != 0 {
			fdSet(&rset, fd)
		}
		if reg.events&EventWrite != 0 {
			fdSet(&wset, fd)
		}
		if fd > maxFd {
			maxFd = fd
		}
	}
	sort.Ints(fds) // deterministic dispatch order, easier to reason about/test

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * 1e6)
		tv = &t
	}

	if maxFd < 0 {
		// Nothing registered; emulate a blocking/timed sleep with select on
		// no descriptors, which is portable and interruptible by EINTR.
		_, err := unix.Select(0, nil, nil, nil, tv)
		if err != nil && err != unix.EINTR {
			return 0, err
		}
		return 0, nil
	}

	n, err := unix.Select(maxFd+1, &rset, &wset, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	fired := 0
	for _, fd := range fds {
		reg := p.regs[fd]
		var got IOEvent
		if fdIsSet(&rset, fd) {
			got |= EventRead
		}
		if fdIsSet(&wset, fd) {
			got |= EventWrite
		}
		if got == 0 {
			continue
		}
		fired++
		reg.cb(got)
	}
	return fired, nil
}

func (p *selectPoller) Close() error {
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/wordBits] |= 1 << (uint(fd) % uint(wordBits))
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/wordBits]&(1<<(uint(fd)%uint(wordBits))) != 0
}
