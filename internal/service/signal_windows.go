//go:build windows

package service

import (
	"os"
)

// windows has no termination signal
func terminate(p *os.Process) error {
	return p.Kill()
}

func signalName(_ *os.ProcessState) string {
	return ""
}
