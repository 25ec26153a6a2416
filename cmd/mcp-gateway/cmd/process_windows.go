//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// gracefulSignals returns the signals that trigger graceful shutdown.
// Windows only delivers os.Interrupt reliably.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive reports whether proc is still running.
func processIsAlive(proc *os.Process) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == 259 // STILL_ACTIVE
}

// sendGracefulStop terminates proc with Kill; Windows has no SIGTERM
// equivalent reliably deliverable to another process.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
