//go:build linux

package loop

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the preferred Linux poller: edge-triggered-capable epoll
// over a direct fd->registration map, per spec.md's preference for the
// best available readiness primitive.
type epollPoller struct {
	epfd int
	regs map[int]*epollReg
	buf  []unix.EpollEvent
}

type epollReg struct {
	events IOEvent
	cb     IOCallback
}

func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd: epfd,
		regs: make(map[int]*epollReg),
		buf:  make([]unix.EpollEvent, 128),
	}, nil
}

func toEpollMask(ev IOEvent) uint32 {
	var m uint32
	if ev&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if ev&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpollMask(m uint32) IOEvent {
	var ev IOEvent
	if m&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if m&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if m&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if m&unix.EPOLLHUP != 0 {
		ev |= EventHangup
	}
	return ev
}

func (p *epollPoller) Add(fd int, events IOEvent, cb IOCallback) error {
	reg := &epollReg{events: events, cb: cb}
	ev := &unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.regs[fd] = reg
	return nil
}

func (p *epollPoller) Modify(fd int, events IOEvent) error {
	reg, ok := p.regs[fd]
	if !ok {
		return nil
	}
	reg.events = events
	ev := &unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Remove(fd int) error {
	if _, ok := p.regs[fd]; !ok {
		return nil
	}
	delete(p.regs, fd)
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) Wait(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.buf[i].Fd)
		reg, ok := p.regs[fd]
		if !ok {
			continue
		}
		reg.cb(fromEpollMask(p.buf[i].Events))
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
