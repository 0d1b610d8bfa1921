//go:build unix && !linux

package loop

import "golang.org/x/sys/unix"

// newWakeFd creates the loop's self-wake descriptor using the classic
// self-pipe trick, for platforms without eventfd.
func newWakeFd() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func wakeWrite(fd int) error {
	var buf [1]byte
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func wakeDrain(fd int) {
	var buf [512]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func closeWakeFd(readFd, writeFd int) {
	_ = unix.Close(readFd)
	_ = unix.Close(writeFd)
}
