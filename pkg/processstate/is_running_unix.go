//go:build !windows

package processstate

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// IsProcessRunning probes pid with signal 0. A process owned by another
// user answers EPERM, which still means it exists.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	}
	return false, err
}

// IsPermissionDenied reports whether err is the OS refusing access to
// another user's process.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}
