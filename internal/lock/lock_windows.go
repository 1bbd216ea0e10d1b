//go:build windows

package lock

import (
	"os"
	"syscall"
)

// processAlive checks whether pid corresponds to a running process.
// On Windows, FindProcess always succeeds; test with a Signal(0) equivalent.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
