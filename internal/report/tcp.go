package report

import (
	"errors"
	"net"
	"strconv"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Tcp opens a short-lived, nonblocking TCP connection per report, writes
// the snapshot, and closes once the write has drained. No retry on
// failure: a dropped report is preferable to stalling the reporting
// loop on a dead sink. Connect and write readiness are driven through
// the same loop.Loop poller every other component uses, mirroring
// TCPReactable's nonblocking connect_ex/send cycle in the original.
type Tcp struct {
	Addr   string
	Port   int
	Logger *logrus.Logger
	loop   *loop.Loop
}

func NewTcp(l *loop.Loop, addr string, port int, logger *logrus.Logger) *Tcp {
	return &Tcp{Addr: addr, Port: port, Logger: logger, loop: l}
}

func (r *Tcp) warn(format string, args ...any) {
	r.Logger.WithField("reporter", "tcp").Warnf(format, args...)
}

func (r *Tcp) SendReport(lines []string) {
	if len(lines) == 0 {
		return
	}
	message := []byte(joinLines(lines))

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(r.Addr, strconv.Itoa(r.Port)))
	if err != nil {
		r.warn("failed to resolve destination: %v", err)
		return
	}
	sa, domain, err := sockaddrFor(addr)
	if err != nil {
		r.warn("failed to send report: %v", err)
		return
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		r.warn("failed to open socket: %v", err)
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		r.warn("failed to set nonblocking: %v", err)
		_ = unix.Close(fd)
		return
	}

	conn := &tcpSend{reporter: r, fd: fd, message: message}

	err = unix.Connect(fd, sa)
	if err == nil {
		conn.connected = true
	} else if !errors.Is(err, unix.EINPROGRESS) {
		r.warn("failed to send report: %v", err)
		_ = unix.Close(fd)
		return
	}

	if regErr := r.loop.AddFd(fd, loop.EventWrite, conn.onWritable); regErr != nil {
		r.warn("failed to register socket: %v", regErr)
		_ = unix.Close(fd)
		return
	}
	if conn.connected {
		conn.onWritable(loop.EventWrite)
	}
}

// tcpSend carries the state of one in-flight nonblocking report write.
type tcpSend struct {
	reporter  *Tcp
	fd        int
	message   []byte
	offset    int
	connected bool
}

func (c *tcpSend) onWritable(loop.IOEvent) {
	if !c.connected {
		errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil || errno != 0 {
			if err == nil {
				err = unix.Errno(errno)
			}
			c.reporter.warn("failed to send report: %v", err)
			c.cleanup()
			return
		}
		c.connected = true
	}

	for c.offset < len(c.message) {
		n, err := unix.Write(c.fd, c.message[c.offset:])
		if n > 0 {
			c.offset += n
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return // wait for the next writable event
			}
			c.reporter.warn("failed to send report: %v", err)
			c.cleanup()
			return
		}
		if n == 0 {
			return
		}
	}
	c.cleanup()
}

func (c *tcpSend) cleanup() {
	_ = c.reporter.loop.RemoveFd(c.fd)
	_ = unix.Close(c.fd)
}

// sockaddrFor converts a resolved *net.TCPAddr into the raw sockaddr and
// socket domain unix.Socket/unix.Connect expect, supporting both IPv4
// and IPv6 destinations.
func sockaddrFor(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var a [4]byte
		copy(a[:], ip4)
		return &unix.SockaddrInet4{Port: addr.Port, Addr: a}, unix.AF_INET, nil
	}
	var a [16]byte
	copy(a[:], addr.IP.To16())
	return &unix.SockaddrInet6{Port: addr.Port, Addr: a}, unix.AF_INET6, nil
}
