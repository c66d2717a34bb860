package resourcelimits

import (
	"context"
	goerrors "errors"
	"os"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/processstate"

	"github.com/shirou/gopsutil/v4/process"
)

// processTerminator sends a single forceful kill (SIGKILL on Unix,
// TerminateProcess on Windows). There is no escalation sequence.
type processTerminator struct {
	logger logging.Logger
}

// NewProcessTerminator creates a ProcessTerminator for local processes
func NewProcessTerminator(logger logging.Logger) ProcessTerminator {
	return &processTerminator{
		logger: logger,
	}
}

// Terminate kills pid. A process that is already gone yields a not_found
// error and a refused kill yields a permission error; callers treat both
// as transient.
func (pt *processTerminator) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if goerrors.Is(err, process.ErrorProcessNotRunning) {
			return errors.NewNotFoundError("process is not running", err).WithContext("pid", pid)
		}
		return errors.NewProcessError("failed to open process", err).WithContext("pid", pid)
	}

	if err := p.KillWithContext(ctx); err != nil {
		return pt.classifyKillError(pid, err)
	}

	pt.logger.Debugf("Kill sent to PID %d", pid)
	return nil
}

func (pt *processTerminator) classifyKillError(pid int, err error) error {
	if goerrors.Is(err, os.ErrProcessDone) {
		return errors.NewNotFoundError("process already exited", err).WithContext("pid", pid)
	}
	if processstate.IsPermissionDenied(err) {
		return errors.NewPermissionError("not permitted to kill process", err).WithContext("pid", pid)
	}

	running, stateErr := processstate.IsProcessRunning(pid)
	if stateErr == nil && !running {
		return errors.NewNotFoundError("process exited before kill", err).WithContext("pid", pid)
	}

	return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
}
