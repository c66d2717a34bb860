package resourcelimits

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
)

const DefaultDisplayInterval = 1 * time.Second

// SystemMonitor samples host usage on its own ticker and hands each
// sample to a callback, typically a gauge renderer. It never touches the
// rule store or the process table.
type SystemMonitor struct {
	interval time.Duration
	sampler  MetricsSampler
	logger   logging.Logger

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex

	// State
	isRunning bool
	latest    *SystemSample
	callback  SystemSampleCallback
}

// NewSystemMonitor creates a monitor sampling every interval
func NewSystemMonitor(interval time.Duration, sampler MetricsSampler, logger logging.Logger) *SystemMonitor {
	if interval <= 0 {
		interval = DefaultDisplayInterval
	}
	return &SystemMonitor{
		interval: interval,
		sampler:  sampler,
		logger:   logger,
	}
}

// SetSampleCallback sets callback for host usage updates
func (sm *SystemMonitor) SetSampleCallback(callback SystemSampleCallback) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.callback = callback
}

// Start begins periodic sampling
func (sm *SystemMonitor) Start(ctx context.Context) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.isRunning {
		return errors.NewValidationError("system monitor is already running", nil)
	}

	sm.ctx, sm.cancel = context.WithCancel(ctx)
	sm.isRunning = true

	sm.logger.Infof("Starting system monitoring, interval: %v", sm.interval)

	sm.wg.Add(1)
	go sm.monitorLoop()

	return nil
}

// Stop stops periodic sampling
func (sm *SystemMonitor) Stop() {
	sm.mutex.Lock()
	if !sm.isRunning {
		sm.mutex.Unlock()
		return
	}
	sm.cancel()
	sm.isRunning = false
	sm.mutex.Unlock()

	sm.wg.Wait()

	sm.logger.Infof("System monitoring stopped")
}

// LatestSample returns the most recent sample, if any was taken
func (sm *SystemMonitor) LatestSample() (SystemSample, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	if sm.latest == nil {
		return SystemSample{}, false
	}
	return *sm.latest, true
}

func (sm *SystemMonitor) monitorLoop() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			sm.logger.Debugf("System monitoring loop stopped")
			return

		case <-ticker.C:
			sm.collect()
		}
	}
}

func (sm *SystemMonitor) collect() {
	sample, err := sm.sampler.SampleSystem(sm.ctx)
	if err != nil {
		sm.logger.Errorf("Failed to sample system usage: %v", err)
		return
	}

	var callback SystemSampleCallback

	sm.mutex.Lock()
	sm.latest = &sample
	callback = sm.callback
	sm.mutex.Unlock()

	if callback != nil {
		callback(sample)
	}
}
