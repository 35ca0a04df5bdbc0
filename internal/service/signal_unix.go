//go:build !windows

package service

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// signalName returns the name of the signal which killed the process, or an
// empty string when it exited normally.
func signalName(state *os.ProcessState) string {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	if name := unix.SignalName(ws.Signal()); name != "" {
		return name
	}
	return ws.Signal().String()
}
