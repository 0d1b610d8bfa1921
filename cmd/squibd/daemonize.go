package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// daemonizedEnv marks a process as the already-detached child of a
// daemonize call, so re-executing squibd's own argv a second time (the
// Go-idiomatic stand-in for the original's bare os.fork()+setsid(), since
// Go cannot safely continue running after a fork without an exec) does
// not daemonize again.
const daemonizedEnv = "SQUIBD_DAEMONIZED"

// daemonize detaches the process into the background: fork+exec itself
// with stdio redirected to /dev/null and a new session, then the parent
// exits immediately, mirroring the original's fork-then-os._exit(0).
func daemonize(pidFile string) error {
	if os.Getenv(daemonizedEnv) == "1" {
		if pidFile != "" {
			return writePidFile(pidFile)
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	attr := &syscall.ProcAttr{
		Env:   append(os.Environ(), daemonizedEnv+"=1"),
		Files: []uintptr{devNull.Fd(), devNull.Fd(), devNull.Fd()},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	if _, err := syscall.ForkExec(exe, os.Args, attr); err != nil {
		return fmt.Errorf("forking daemon child: %w", err)
	}

	os.Exit(0)
	panic("unreachable")
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
