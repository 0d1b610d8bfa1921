//go:build darwin

package loop

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller is the preferred Darwin poller, mirroring the epoll
// poller's semantics over BSD kqueue.
type kqueuePoller struct {
	kq   int
	regs map[int]*kqueueReg
	buf  []unix.Kevent_t
}

type kqueueReg struct {
	events IOEvent
	cb     IOCallback
}

func newPlatformPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:   kq,
		regs: make(map[int]*kqueueReg),
		buf:  make([]unix.Kevent_t, 128),
	}, nil
}

func (p *kqueuePoller) applyChanges(fd int, old, want IOEvent) error {
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, wantSet bool, hadSet bool) {
		if wantSet == hadSet {
			return
		}
		flags := unix.EV_ADD | unix.EV_ENABLE
		if !wantSet {
			flags = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  uint16(flags),
		})
	}
	addOrDel(unix.EVFILT_READ, want&EventRead != 0, old&EventRead != 0)
	addOrDel(unix.EVFILT_WRITE, want&EventWrite != 0, old&EventWrite != 0)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, events IOEvent, cb IOCallback) error {
	if err := p.applyChanges(fd, 0, events); err != nil {
		return err
	}
	p.regs[fd] = &kqueueReg{events: events, cb: cb}
	return nil
}

func (p *kqueuePoller) Modify(fd int, events IOEvent) error {
	reg, ok := p.regs[fd]
	if !ok {
		return nil
	}
	if err := p.applyChanges(fd, reg.events, events); err != nil {
		return err
	}
	reg.events = events
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	reg, ok := p.regs[fd]
	if !ok {
		return nil
	}
	_ = p.applyChanges(fd, reg.events, 0)
	delete(p.regs, fd)
	return nil
}

func (p *kqueuePoller) Wait(timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := p.buf[i]
		fd := int(ev.Ident)
		reg, ok := p.regs[fd]
		if !ok {
			continue
		}
		var got IOEvent
		switch ev.Filter {
		case unix.EVFILT_READ:
			got = EventRead
		case unix.EVFILT_WRITE:
			got = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			got |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			got |= EventError
		}
		reg.cb(got)
	}
	return n, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
