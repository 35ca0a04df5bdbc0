//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 toggles the pause flag of the running automation
func pauseSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
