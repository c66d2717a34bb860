package resourcelimits

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
)

const DefaultEnforcementInterval = 5 * time.Second

// EngineOptions configures the enforcement loop
type EngineOptions struct {
	Interval time.Duration

	// DryRun evaluates the rule and reports violators without killing them
	DryRun bool
}

// EnforcementEngine terminates every process whose CPU or RAM share
// strictly exceeds the stored rule. It keeps no state between ticks: no
// violation history, no grace period. No pid is exempt, the engine's own
// included.
type EnforcementEngine struct {
	options    EngineOptions
	store      RuleStore
	sampler    MetricsSampler
	checker    ResourceViolationChecker
	terminator ProcessTerminator
	logger     logging.Logger

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex

	// State
	isRunning  bool
	inProgress atomic.Bool
	callback   EnforcementCallback
}

// NewEnforcementEngine creates an engine reading rules from store and
// processes from sampler
func NewEnforcementEngine(options EngineOptions, store RuleStore, sampler MetricsSampler, terminator ProcessTerminator, logger logging.Logger) *EnforcementEngine {
	if options.Interval <= 0 {
		options.Interval = DefaultEnforcementInterval
	}
	return &EnforcementEngine{
		options:    options,
		store:      store,
		sampler:    sampler,
		checker:    NewResourceViolationChecker(logger),
		terminator: terminator,
		logger:     logger,
	}
}

// SetEnforcementCallback sets a callback invoked for every violating process
func (e *EnforcementEngine) SetEnforcementCallback(callback EnforcementCallback) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.callback = callback
}

// Start begins periodic enforcement
func (e *EnforcementEngine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.isRunning {
		return errors.NewValidationError("enforcement engine is already running", nil)
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.isRunning = true

	e.logger.Infof("Starting enforcement, interval: %v, dry run: %v", e.options.Interval, e.options.DryRun)

	e.wg.Add(1)
	go e.enforceLoop()

	return nil
}

// Stop cancels the loop and waits for a running tick to finish.
// Terminations already performed are not rolled back.
func (e *EnforcementEngine) Stop() {
	e.mutex.Lock()
	if !e.isRunning {
		e.mutex.Unlock()
		return
	}
	e.logger.Infof("Stopping enforcement")
	e.cancel()
	e.isRunning = false
	e.mutex.Unlock()

	e.wg.Wait()

	e.logger.Infof("Enforcement stopped")
}

func (e *EnforcementEngine) enforceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Debugf("Enforcement loop stopped")
			return

		case <-ticker.C:
			e.Tick(e.ctx)
		}
	}
}

// Tick runs one full evaluation. If another tick is still running it
// returns at once with InProgress set.
func (e *EnforcementEngine) Tick(ctx context.Context) TickReport {
	if !e.inProgress.CompareAndSwap(false, true) {
		now := time.Now()
		e.logger.Warnf("Enforcement tick skipped, previous tick still in progress")
		return TickReport{Started: now, Finished: now, InProgress: true}
	}
	defer e.inProgress.Store(false)

	report := TickReport{Started: time.Now()}
	report.Rule = e.store.Load()

	it, err := e.sampler.ListProcesses(ctx)
	if err != nil {
		e.logger.Errorf("Enforcement tick aborted, failed to list processes: %v", err)
		report.Finished = time.Now()
		return report
	}

	for {
		sample, ok := it.Next()
		if !ok {
			break
		}
		report.Scanned++

		violations := e.checker.CheckViolations(sample, report.Rule)
		if len(violations) == 0 {
			continue
		}
		report.Violations++

		e.enforce(ctx, sample, violations, &report)
	}

	if err := it.Err(); err != nil {
		e.logger.Warnf("Process listing ended early: %v", err)
	}
	report.Skipped = it.Skipped()
	report.Finished = time.Now()

	logf := e.logger.Debugf
	if report.Violations > 0 {
		logf = e.logger.Infof
	}
	logf("Enforcement tick done, rule: %s, scanned: %d, skipped: %d, violations: %d, terminated: %d, failed: %d, took: %v",
		report.Rule, report.Scanned, report.Skipped, report.Violations, report.Terminated, report.Failed,
		report.Finished.Sub(report.Started))

	return report
}

func (e *EnforcementEngine) enforce(ctx context.Context, sample ProcessSample, violations []*ResourceViolation, report *TickReport) {
	result := EnforcementResult{
		Sample:     sample,
		Violations: violations,
		DryRun:     e.options.DryRun,
	}

	if e.options.DryRun {
		e.logger.Infof("Dry run, would terminate %s (PID: %d): %s", sample.Name, sample.PID, violations[0].Message)
	} else {
		result.Err = e.terminator.Terminate(ctx, sample.PID)
		switch {
		case result.Err == nil:
			result.Terminated = true
			report.Terminated++
			e.logger.Infof("%s (PID: %d) terminated: %s", sample.Name, sample.PID, violations[0].Message)
		case errors.IsTransientProcessError(result.Err):
			report.Failed++
			e.logger.Warnf("Could not terminate %s (PID: %d): %v", sample.Name, sample.PID, result.Err)
		default:
			report.Failed++
			e.logger.Errorf("Failed to terminate %s (PID: %d): %v", sample.Name, sample.PID, result.Err)
		}
	}

	if callback := e.getEnforcementCallback(); callback != nil {
		callback(result)
	}
}

func (e *EnforcementEngine) getEnforcementCallback() EnforcementCallback {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.callback
}
