//go:build windows

package loop

import "errors"

func newWakeFd() (readFd, writeFd int, err error) {
	return -1, -1, errors.New("loop: wake fd unsupported on windows")
}

func wakeWrite(fd int) error      { return nil }
func wakeDrain(fd int)            {}
func closeWakeFd(readFd, writeFd int) {}
