//go:build windows

package main

import "os"

func pauseSignals() []os.Signal {
	return nil
}
