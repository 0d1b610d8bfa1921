//go:build linux

package loop

import "golang.org/x/sys/unix"

// newWakeFd creates the loop's self-wake descriptor. On Linux this is a
// single nonblocking eventfd, used for both the write (wake) and read
// (drain) side.
func newWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func wakeWrite(fd int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		// counter already signalled; nothing to do
		return nil
	}
	return err
}

func wakeDrain(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFd(readFd, writeFd int) {
	_ = unix.Close(readFd)
}
