package resourcelimits

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(store RuleStore, sampler MetricsSampler, terminator ProcessTerminator, options EngineOptions) *EnforcementEngine {
	return NewEnforcementEngine(options, store, sampler, terminator, &MockLogger{})
}

func TestEngineTerminatesOnlyViolators(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 50, MaxRAMPercent: 50}}
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 10, Name: "hog", CPUPercent: 60, RAMPercent: 10},
		{PID: 11, Name: "idle", CPUPercent: 10, RAMPercent: 10},
	}}
	terminator := &recordingTerminator{}

	report := newTestEngine(store, sampler, terminator, EngineOptions{}).Tick(context.Background())

	assert.Equal(t, []int{10}, terminator.terminated())
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Terminated)
	assert.Equal(t, 0, report.Failed)
	assert.False(t, report.InProgress)
}

func TestEngineMissingRuleFileTerminatesEverything(t *testing.T) {
	store := NewFileRuleStore(filepath.Join(t.TempDir(), "kural.json"), &MockLogger{})
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 5, Name: "tiny", CPUPercent: 1, RAMPercent: 1},
	}}
	terminator := &recordingTerminator{}

	report := newTestEngine(store, sampler, terminator, EngineOptions{}).Tick(context.Background())

	assert.Equal(t, ResourceLimitRule{}, report.Rule)
	assert.Equal(t, []int{5}, terminator.terminated())
}

func TestEngineSampleAtLimitIsKept(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 30, MaxRAMPercent: 20}}
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 7, Name: "edge", CPUPercent: 30, RAMPercent: 20},
	}}
	terminator := &recordingTerminator{}

	report := newTestEngine(store, sampler, terminator, EngineOptions{}).Tick(context.Background())

	assert.Empty(t, terminator.terminated())
	assert.Equal(t, 0, report.Violations)
}

func TestEngineTransientFailuresDoNotStopTick(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 10, MaxRAMPercent: 10}}
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 100, Name: "gone", CPUPercent: 90},
		{PID: 101, Name: "root-owned", CPUPercent: 90},
		{PID: 102, Name: "weird", CPUPercent: 90},
		{PID: 103, Name: "victim", CPUPercent: 90},
	}}
	terminator := &recordingTerminator{errs: map[int]error{
		100: errors.NewNotFoundError("process is not running", nil),
		101: errors.NewPermissionError("not permitted", nil),
		102: errors.NewProcessError("unexpected", nil),
	}}

	var results []EnforcementResult
	engine := newTestEngine(store, sampler, terminator, EngineOptions{})
	engine.SetEnforcementCallback(func(result EnforcementResult) {
		results = append(results, result)
	})

	var report TickReport
	require.NotPanics(t, func() { report = engine.Tick(context.Background()) })

	assert.Equal(t, []int{100, 101, 102, 103}, terminator.terminated())
	assert.Equal(t, 4, report.Violations)
	assert.Equal(t, 1, report.Terminated)
	assert.Equal(t, 3, report.Failed)

	require.Len(t, results, 4)
	assert.False(t, results[0].Terminated)
	assert.True(t, errors.IsNotFoundError(results[0].Err))
	assert.True(t, results[3].Terminated)
	assert.NoError(t, results[3].Err)
	assert.Equal(t, "victim", results[3].Sample.Name)
}

func TestEngineDoesNotSpecialCaseAnyPID(t *testing.T) {
	self := os.Getpid()
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 5, MaxRAMPercent: 5}}
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 1, Name: "init", RAMPercent: 6},
		{PID: self, Name: "guard", CPUPercent: 6},
		{PID: os.Getppid(), Name: "parent", CPUPercent: 6},
	}}
	terminator := &recordingTerminator{}

	newTestEngine(store, sampler, terminator, EngineOptions{}).Tick(context.Background())

	assert.Equal(t, []int{1, self, os.Getppid()}, terminator.terminated())
}

func TestEngineDryRunNeverTerminates(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 50, MaxRAMPercent: 50}}
	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 10, Name: "hog", CPUPercent: 60},
	}}
	terminator := &recordingTerminator{}

	var results []EnforcementResult
	engine := newTestEngine(store, sampler, terminator, EngineOptions{DryRun: true})
	engine.SetEnforcementCallback(func(result EnforcementResult) {
		results = append(results, result)
	})
	report := engine.Tick(context.Background())

	assert.Empty(t, terminator.terminated())
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 0, report.Terminated)
	require.Len(t, results, 1)
	assert.True(t, results[0].DryRun)
	assert.False(t, results[0].Terminated)
	assert.Equal(t, ResourceLimitTypeCPU, results[0].Violations[0].LimitType)
}

func TestEngineListingFailureEndsTick(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{}}
	sampler := &fakeSampler{listErr: errors.NewInternalError("no /proc", nil)}
	terminator := &recordingTerminator{}

	report := newTestEngine(store, sampler, terminator, EngineOptions{}).Tick(context.Background())

	assert.Empty(t, terminator.terminated())
	assert.Equal(t, 0, report.Scanned)
	assert.False(t, report.Finished.Before(report.Started))
}

func TestEngineOverlappingTicksAreSkipped(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 10, MaxRAMPercent: 10}}
	sampler := &fakeSampler{
		processes: []ProcessSample{{PID: 20, Name: "hog", CPUPercent: 99}},
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	terminator := &recordingTerminator{}
	engine := newTestEngine(store, sampler, terminator, EngineOptions{})

	var wg sync.WaitGroup
	var first TickReport
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = engine.Tick(context.Background())
	}()

	<-sampler.entered
	second := engine.Tick(context.Background())
	assert.True(t, second.InProgress)

	close(sampler.release)
	wg.Wait()

	assert.False(t, first.InProgress)
	assert.Equal(t, 1, first.Terminated)
	assert.Equal(t, []int{20}, terminator.terminated())
	assert.Equal(t, 1, sampler.calls())

	// The guard is released once the first tick finishes
	sampler.entered = nil
	third := engine.Tick(context.Background())
	assert.False(t, third.InProgress)
}

func TestEngineObservesRuleEditsBetweenTicks(t *testing.T) {
	store := NewFileRuleStore(filepath.Join(t.TempDir(), "kural.json"), &MockLogger{})
	require.NoError(t, store.Save(ResourceLimitRule{MaxCPUPercent: 50, MaxRAMPercent: 50}))

	sampler := &fakeSampler{processes: []ProcessSample{
		{PID: 10, Name: "hog", CPUPercent: 60, RAMPercent: 10},
	}}
	terminator := &recordingTerminator{}
	engine := newTestEngine(store, sampler, terminator, EngineOptions{})

	engine.Tick(context.Background())
	assert.Equal(t, []int{10}, terminator.terminated())

	require.NoError(t, store.Save(ResourceLimitRule{MaxCPUPercent: 70, MaxRAMPercent: 50}))
	report := engine.Tick(context.Background())
	assert.Equal(t, ResourceLimitRule{MaxCPUPercent: 70, MaxRAMPercent: 50}, report.Rule)
	assert.Equal(t, []int{10}, terminator.terminated())
}

func TestEngineStartStop(t *testing.T) {
	store := &staticRuleStore{rule: ResourceLimitRule{MaxCPUPercent: 10, MaxRAMPercent: 10}}
	sampler := &fakeSampler{processes: []ProcessSample{{PID: 30, Name: "hog", CPUPercent: 99}}}
	terminator := &recordingTerminator{}
	engine := newTestEngine(store, sampler, terminator, EngineOptions{Interval: 10 * time.Millisecond})

	require.NoError(t, engine.Start(context.Background()))
	assert.Error(t, engine.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(terminator.terminated()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	engine.Stop()
	calls := sampler.calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, sampler.calls(), "no ticks after Stop")

	// Stop is idempotent
	engine.Stop()
}

func TestEngineStopsWhenParentContextIsCancelled(t *testing.T) {
	store := &staticRuleStore{}
	sampler := &fakeSampler{}
	engine := newTestEngine(store, sampler, &recordingTerminator{}, EngineOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	require.Eventually(t, func() bool { return sampler.calls() > 0 }, time.Second, time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestNewEnforcementEngineDefaults(t *testing.T) {
	engine := NewEnforcementEngine(EngineOptions{}, &staticRuleStore{}, &fakeSampler{}, &recordingTerminator{}, &MockLogger{})
	assert.Equal(t, DefaultEnforcementInterval, engine.options.Interval)
	assert.False(t, engine.options.DryRun)
}
