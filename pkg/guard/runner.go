package guard

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/resourcelimits"
)

// RunOptions control a guard run from an entrypoint
type RunOptions struct {
	RunDuration   int  // Seconds, 0 runs until signalled
	Once          bool // Single enforcement tick, then return
	Components    Components
	OnSample      resourcelimits.SystemSampleCallback
	OnEnforcement resourcelimits.EnforcementCallback
}

// Run validates the configuration, starts the guard and blocks until a
// signal arrives, the run duration elapses or ctx is done.
func Run(ctx context.Context, config *GuardConfig, options RunOptions, logger logging.Logger) error {
	logger.Infof("Guard runner starting...")

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	if options.RunDuration > 0 {
		duration := time.Duration(options.RunDuration) * time.Second
		logger.Infof("Using RUN DURATION of %s", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using RULE FILE: %s", config.Guard.RuleFile)
	if config.Guard.DryRun {
		logger.Infof("Dry run is ENABLED - violators will be reported, not terminated")
	}

	g := NewGuard(config.Guard, options.Components, logger)
	if options.OnSample != nil {
		g.SetSampleCallback(options.OnSample)
	}
	if options.OnEnforcement != nil {
		g.SetEnforcementCallback(options.OnEnforcement)
	}

	if options.Once {
		report := g.RunOnce(ctx)
		logger.Infof("Single tick finished, scanned: %d, violations: %d, terminated: %d, failed: %d",
			report.Scanned, report.Violations, report.Terminated, report.Failed)
		return nil
	}

	if err := g.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start guard", err)
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Guard is fully operational")

	select {
	case receivedSignal := <-sig:
		logger.Infof("Guard runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Guard runner finished: %v", ctx.Err())
	}

	g.Stop()

	logger.Infof("Guard runner stopped")

	return nil
}
