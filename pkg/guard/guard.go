package guard

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/resourcelimits"
)

// GuardState represents the current state of the guard
type GuardState string

const (
	GuardStateNotStarted GuardState = "not_started"
	GuardStateRunning    GuardState = "running"
	GuardStateStopping   GuardState = "stopping"
	GuardStateStopped    GuardState = "stopped"
)

// Components lets callers swap the host-facing parts, mostly for tests.
// Nil fields are built from GuardConfigOptions.
type Components struct {
	Store      resourcelimits.RuleStore
	Sampler    resourcelimits.MetricsSampler
	Terminator resourcelimits.ProcessTerminator
}

// Guard owns the display and enforcement tasks. The two tasks share only
// the sampler and never block each other.
type Guard struct {
	options GuardConfigOptions
	store   resourcelimits.RuleStore
	engine  *resourcelimits.EnforcementEngine
	monitor *resourcelimits.SystemMonitor
	logger  logging.Logger

	state GuardState
	mutex sync.Mutex
}

// NewGuard wires the rule store, sampler, engine and monitor together
func NewGuard(options GuardConfigOptions, components Components, logger logging.Logger) *Guard {
	store := components.Store
	if store == nil {
		store = resourcelimits.NewFileRuleStore(options.RuleFile, logger)
	}
	sampler := components.Sampler
	if sampler == nil {
		sampler = resourcelimits.NewMetricsSampler(resourcelimits.SamplerConfig{
			DiskPath:        options.DiskPath,
			CPUSampleWindow: options.CPUSampleWindow,
		}, logger)
	}
	terminator := components.Terminator
	if terminator == nil {
		terminator = resourcelimits.NewProcessTerminator(logger)
	}

	engine := resourcelimits.NewEnforcementEngine(resourcelimits.EngineOptions{
		Interval: options.EnforcementInterval,
		DryRun:   options.DryRun,
	}, store, sampler, terminator, logger)

	var monitor *resourcelimits.SystemMonitor
	if options.IsDisplayEnabled() {
		monitor = resourcelimits.NewSystemMonitor(options.DisplayInterval, sampler, logger)
	}

	return &Guard{
		options: options,
		store:   store,
		engine:  engine,
		monitor: monitor,
		logger:  logger,
		state:   GuardStateNotStarted,
	}
}

// SetSampleCallback receives every display sample. Ignored when the
// display task is disabled.
func (g *Guard) SetSampleCallback(callback resourcelimits.SystemSampleCallback) {
	if g.monitor != nil {
		g.monitor.SetSampleCallback(callback)
	}
}

// SetEnforcementCallback receives every enforcement decision
func (g *Guard) SetEnforcementCallback(callback resourcelimits.EnforcementCallback) {
	g.engine.SetEnforcementCallback(callback)
}

// Start launches both periodic tasks
func (g *Guard) Start(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.state == GuardStateRunning {
		return errors.NewValidationError("guard is already running", nil)
	}

	g.logger.Infof("Starting guard, rule_file: %s, dry_run: %t", g.options.RuleFile, g.options.DryRun)

	rule := g.store.Load()
	if rule.IsZero() {
		g.logger.Warnf("Rule is %s: every process using any CPU or RAM will be terminated", rule)
	} else {
		g.logger.Infof("Current rule: %s", rule)
	}

	if g.monitor != nil {
		if err := g.monitor.Start(ctx); err != nil {
			return errors.NewInternalError("failed to start system monitor", err)
		}
	}
	if err := g.engine.Start(ctx); err != nil {
		if g.monitor != nil {
			g.monitor.Stop()
		}
		return errors.NewInternalError("failed to start enforcement engine", err)
	}

	g.state = GuardStateRunning
	g.logger.Infof("Guard started")
	return nil
}

// Stop halts both tasks and waits for an in-flight tick to finish
func (g *Guard) Stop() {
	g.mutex.Lock()
	if g.state != GuardStateRunning {
		g.mutex.Unlock()
		return
	}
	g.state = GuardStateStopping
	g.mutex.Unlock()

	g.logger.Infof("Stopping guard...")

	g.engine.Stop()
	if g.monitor != nil {
		g.monitor.Stop()
	}

	g.mutex.Lock()
	g.state = GuardStateStopped
	g.mutex.Unlock()

	g.logger.Infof("Guard stopped")
}

// RunOnce performs a single enforcement tick without starting the tasks
func (g *Guard) RunOnce(ctx context.Context) resourcelimits.TickReport {
	return g.engine.Tick(ctx)
}

// State returns the current guard state
func (g *Guard) State() GuardState {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.state
}

// LatestSample returns the most recent display sample, if any
func (g *Guard) LatestSample() (resourcelimits.SystemSample, bool) {
	if g.monitor == nil {
		return resourcelimits.SystemSample{}, false
	}
	return g.monitor.LatestSample()
}
