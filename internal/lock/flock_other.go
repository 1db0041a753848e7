//go:build !unix

package lock

import (
	"errors"
	"os"
)

var errWouldBlock = errors.New("lock held elsewhere")

// Without flock the lock file is only informational.
func flockExclusive(f *os.File) error { return nil }

func funlock(f *os.File) error { return nil }

// ProcessRunning reports whether pid names a live process.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
