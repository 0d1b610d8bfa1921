package report

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/mcrewson/squibd/internal/reactor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// WebPollable caches the most recent published snapshot and serves it to
// pull-based scrapers over a tiny HTTP subset: any path other than the
// root returns 404, an empty snapshot returns 503, otherwise 200 with the
// joined report lines as text/plain. Accept, request-line read, and
// response write are all driven through the same loop.Loop poller every
// other component uses, rather than a second, net/http-owned goroutine
// pool: no goroutine other than the one running the loop takes part.
type WebPollable struct {
	Logger *logrus.Logger

	loop *loop.Loop
	fd   int
	file *os.File // owns fd's lifetime; see NewWebPollable
	addr string

	snapshot string
	conns    map[int]*wpConn
}

// NewWebPollable constructs a WebPollable and starts listening on addr
// (host:port). The returned dispatcher must be closed with Close when the
// agent shuts down. SendReport and Close must both be called from the
// loop goroutine, matching every other dispatcher in this package.
func NewWebPollable(l *loop.Loop, addr string, logger *logrus.Logger) (*WebPollable, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	file, err := ln.File()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = file.Close()
		_ = ln.Close()
		return nil, err
	}
	addrStr := ln.Addr().String()
	_ = ln.Close() // file.File() duplicated the fd; this only releases the listener's own copy

	r := &WebPollable{
		Logger: logger,
		loop:   l,
		fd:     fd,
		file:   file,
		addr:   addrStr,
		conns:  make(map[int]*wpConn),
	}
	if err := l.AddFd(fd, loop.EventRead, r.onAcceptable); err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

// Addr returns the address the listener bound to, useful when addr was
// given as "host:0" for an ephemeral port.
func (r *WebPollable) Addr() string { return r.addr }

func (r *WebPollable) onAcceptable(loop.IOEvent) {
	for {
		connFd, _, err := unix.Accept4(r.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				return
			case errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				r.Logger.WithField("reporter", "webpollable").Warnf("accept failed: %v", err)
				return
			}
		}
		r.acceptConn(connFd)
	}
}

func (r *WebPollable) acceptConn(fd int) {
	c := &wpConn{wp: r, fd: fd}
	c.lr = &reactor.LineReader{
		Fd:      fd,
		OnLine:  c.onRequestLine,
		OnEOF:   c.onClosedBeforeRequest,
		OnError: func(error) { c.onClosedBeforeRequest() },
	}
	if err := reactor.Register(r.loop, c.lr); err != nil {
		_ = unix.Close(fd)
		return
	}
	r.conns[fd] = c
}

func (r *WebPollable) buildResponse(path string) []byte {
	if path != "/" {
		return httpResponseBytes(404, "Not Found", "", nil)
	}
	if r.snapshot == "" {
		return httpResponseBytes(503, "Service Unavailable", "text/plain; charset=UTF-8", []byte("no metrics collected yet"))
	}
	return httpResponseBytes(200, "OK", "text/plain; charset=UTF-8", []byte(r.snapshot))
}

func httpResponseBytes(status int, statusText, contentType string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.0 %d %s\r\n", status, statusText)
	if contentType != "" {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// SendReport updates the cached snapshot served to the next poll. Called
// once per reporting interval from the loop goroutine.
func (r *WebPollable) SendReport(lines []string) {
	if len(lines) == 0 {
		r.snapshot = ""
		return
	}
	r.snapshot = joinLines(lines)
}

// Close stops the listener and closes every connection still in flight.
func (r *WebPollable) Close() error {
	for fd, c := range r.conns {
		if !c.responded {
			_ = reactor.Unregister(r.loop, c.lr)
		} else {
			_ = r.loop.RemoveFd(fd)
		}
		_ = unix.Close(fd)
	}
	r.conns = nil
	_ = r.loop.RemoveFd(r.fd)
	return r.file.Close()
}

// wpConn tracks one accepted connection through request-line read and
// response write.
type wpConn struct {
	wp        *WebPollable
	fd        int
	lr        *reactor.LineReader
	responded bool
	resp      []byte
	offset    int
}

// onRequestLine fires once the client's request line has arrived. Any
// headers that follow are ignored: this subset never reads past the
// first line before responding.
func (c *wpConn) onRequestLine(line []byte) {
	if c.responded {
		return
	}
	c.responded = true
	_ = reactor.Unregister(c.wp.loop, c.lr)

	fields := bytes.Fields(line)
	path := ""
	if len(fields) >= 2 {
		path = string(fields[1])
	}
	c.resp = c.wp.buildResponse(path)

	if err := c.wp.loop.AddFd(c.fd, loop.EventWrite, c.onWritable); err != nil {
		c.finish()
		return
	}
	c.onWritable(loop.EventWrite)
}

func (c *wpConn) onWritable(loop.IOEvent) {
	for c.offset < len(c.resp) {
		n, err := unix.Write(c.fd, c.resp[c.offset:])
		if n > 0 {
			c.offset += n
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return
			}
			c.finish()
			return
		}
		if n == 0 {
			return
		}
	}
	c.finish()
}

func (c *wpConn) finish() {
	_ = c.wp.loop.RemoveFd(c.fd)
	_ = unix.Close(c.fd)
	delete(c.wp.conns, c.fd)
}

// onClosedBeforeRequest handles EOF/error on a connection that never sent
// a complete request line.
func (c *wpConn) onClosedBeforeRequest() {
	if c.responded {
		return
	}
	_ = reactor.Unregister(c.wp.loop, c.lr)
	_ = unix.Close(c.fd)
	delete(c.wp.conns, c.fd)
}
