//go:build windows

package processstate

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// IsProcessRunning opens pid with query rights and checks its exit code.
// OpenProcess fails with ERROR_INVALID_PARAMETER once the pid is gone.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return false, nil
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return true, nil
		}
		return false, err
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}
	return exitCode == stillActive, nil
}

// IsPermissionDenied reports whether err is the OS refusing access to
// another user's process.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
