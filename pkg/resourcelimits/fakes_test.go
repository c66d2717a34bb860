package resourcelimits

import (
	"context"
	"sync"
)

// MockLogger for testing
type MockLogger struct{}

func (m *MockLogger) Infof(format string, args ...interface{})                {}
func (m *MockLogger) Warnf(format string, args ...interface{})                {}
func (m *MockLogger) Errorf(format string, args ...interface{})               {}
func (m *MockLogger) Debugf(format string, args ...interface{})               {}
func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {}

// staticRuleStore returns a fixed rule
type staticRuleStore struct {
	rule ResourceLimitRule
}

func (s *staticRuleStore) Load() ResourceLimitRule {
	return s.rule
}

func (s *staticRuleStore) Save(rule ResourceLimitRule) error {
	s.rule = rule
	return nil
}

// sliceIterator yields a fixed list of samples once
type sliceIterator struct {
	samples []ProcessSample
	next    int
	skipped int
	err     error
}

func (it *sliceIterator) Next() (ProcessSample, bool) {
	if it.next >= len(it.samples) {
		return ProcessSample{}, false
	}
	s := it.samples[it.next]
	it.next++
	return s, true
}

func (it *sliceIterator) Skipped() int { return it.skipped }
func (it *sliceIterator) Err() error   { return it.err }

// fakeSampler serves a fixed process table and system sample
type fakeSampler struct {
	mu        sync.Mutex
	processes []ProcessSample
	system    SystemSample
	systemErr error
	listErr   error
	listCalls int

	// entered/release let a test hold ListProcesses open
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSampler) SampleSystem(ctx context.Context) (SystemSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.system, f.systemErr
}

func (f *fakeSampler) ListProcesses(ctx context.Context) (ProcessIterator, error) {
	f.mu.Lock()
	f.listCalls++
	entered, release := f.entered, f.release
	samples := append([]ProcessSample(nil), f.processes...)
	err := f.listErr
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &sliceIterator{samples: samples}, nil
}

func (f *fakeSampler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// recordingTerminator records every pid it is asked to kill and fails
// for pids present in errs
type recordingTerminator struct {
	mu   sync.Mutex
	pids []int
	errs map[int]error
}

func (r *recordingTerminator) Terminate(ctx context.Context, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids = append(r.pids, pid)
	return r.errs[pid]
}

func (r *recordingTerminator) terminated() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pids...)
}
