// Package reactor adapts raw, nonblocking file descriptors (child stdout
// and stderr pipes) into line-delimited callbacks, registered against an
// internal/loop.Loop poller.
package reactor

import (
	"errors"

	"github.com/mcrewson/squibd/internal/loop"
	"golang.org/x/sys/unix"
)

// DefaultMaxLineSize bounds how large a single undelimited line may grow
// before it is discarded and reported via OnLineTooLong, protecting the
// registry from a collector that never emits '\n'.
const DefaultMaxLineSize = 65536

const readChunkSize = 4096

// LineReader buffers reads from a single nonblocking fd and invokes OnLine
// for each '\n'-delimited line. It mirrors the read/flags contract of a
// read-only file descriptor reactable: O_NONBLOCK set at registration,
// EWOULDBLOCK/EINTR/EBADF swallowed as "no data yet", anything else
// surfaced as a real error.
type LineReader struct {
	Fd     int
	MaxLen int

	// OnLine is invoked with each complete line, delimiter stripped.
	OnLine func(line []byte)
	// OnLineTooLong is invoked when the buffer exceeds MaxLen without a
	// delimiter; the buffer has already been discarded when it runs.
	OnLineTooLong func()
	// OnEOF is invoked once the peer has closed its end.
	OnEOF func()
	// OnError is invoked for any read error other than EOF/EAGAIN/EINTR/EBADF.
	OnError func(err error)

	buf []byte
}

// Register sets fd nonblocking and adds it to l for read readiness.
func Register(l *loop.Loop, lr *LineReader) error {
	if lr.MaxLen <= 0 {
		lr.MaxLen = DefaultMaxLineSize
	}
	flags, err := unix.FcntlInt(uintptr(lr.Fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if _, err := unix.FcntlInt(uintptr(lr.Fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return err
	}
	return l.AddFd(lr.Fd, loop.EventRead, func(loop.IOEvent) { lr.drain() })
}

// Unregister removes fd from l's poller. The fd itself is not closed; the
// supervisor owns its lifecycle.
func Unregister(l *loop.Loop, lr *LineReader) error {
	return l.RemoveFd(lr.Fd)
}

func (lr *LineReader) drain() {
	var chunk [readChunkSize]byte
	for {
		n, err := unix.Read(lr.Fd, chunk[:])
		if n > 0 {
			lr.buf = append(lr.buf, chunk[:n]...)
			lr.emitLines()
		}
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				return
			case errors.Is(err, unix.EBADF):
				return
			default:
				if lr.OnError != nil {
					lr.OnError(err)
				}
				return
			}
		}
		if n == 0 {
			if lr.OnEOF != nil {
				lr.OnEOF()
			}
			return
		}
		if n < len(chunk) {
			// Short read: no more data queued right now.
			return
		}
	}
}

// emitLines splits lr.buf on '\n', dispatching each complete line and
// retaining any trailing partial line for the next read.
func (lr *LineReader) emitLines() {
	for {
		idx := indexByte(lr.buf, '\n')
		if idx < 0 {
			break
		}
		line := lr.buf[:idx]
		lr.buf = lr.buf[idx+1:]
		if lr.OnLine != nil {
			lr.OnLine(trimCR(line))
		}
	}
	if len(lr.buf) > lr.MaxLen {
		lr.buf = lr.buf[:0]
		if lr.OnLineTooLong != nil {
			lr.OnLineTooLong()
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
