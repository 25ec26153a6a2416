//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the signals that trigger graceful shutdown.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive reports whether proc can still be signaled.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop sends SIGTERM to proc.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}

