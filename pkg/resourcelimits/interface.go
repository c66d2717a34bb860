package resourcelimits

import (
	"context"
	"time"
)

// RuleStore persists the single ResourceLimitRule. Load never fails: a
// missing or corrupt rule resolves to the zero rule.
type RuleStore interface {
	// Load re-reads the persisted rule on every call
	Load() ResourceLimitRule

	// Save validates and atomically replaces the persisted rule
	Save(rule ResourceLimitRule) error
}

// MetricsSampler reads host-wide and per-process usage on demand
type MetricsSampler interface {
	// SampleSystem returns the current host CPU, RAM and disk usage
	SampleSystem(ctx context.Context) (SystemSample, error)

	// ListProcesses starts a single pass over the process table
	ListProcesses(ctx context.Context) (ProcessIterator, error)
}

// HostMetricsSampler adds the static host description to MetricsSampler
type HostMetricsSampler interface {
	MetricsSampler

	// DescribeHost returns OS, hostname and capacity totals
	DescribeHost(ctx context.Context) (HostInfo, error)
}

// ProcessIterator is a lazy, finite, non-restartable pass over the
// process table. Entries for processes that vanish or deny access are
// skipped rather than reported through Err.
type ProcessIterator interface {
	// Next returns the next sample, or false once the pass is exhausted
	Next() (ProcessSample, bool)

	// Skipped returns how many entries were dropped so far
	Skipped() int

	// Err returns the error that ended the pass early, if any
	Err() error
}

// ProcessTerminator forcefully stops a process by pid
type ProcessTerminator interface {
	Terminate(ctx context.Context, pid int) error
}

// ResourceViolationChecker decides whether a sample breaks the rule
type ResourceViolationChecker interface {
	CheckViolations(sample ProcessSample, rule ResourceLimitRule) []*ResourceViolation
}

// ResourceLimitType names the resource a violation refers to
type ResourceLimitType string

const (
	ResourceLimitTypeCPU    ResourceLimitType = "cpu"
	ResourceLimitTypeMemory ResourceLimitType = "memory"
)

// SystemSample is a point-in-time host aggregate
type SystemSample struct {
	CPUPercent  float64   `json:"cpu_percent"`
	RAMPercent  float64   `json:"ram_percent"`
	DiskPercent float64   `json:"disk_percent"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProcessSample is a point-in-time per-process snapshot
type ProcessSample struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"` // % of one core over the sample window
	RAMPercent float64 `json:"ram_percent"` // RSS as % of physical memory
}

// ResourceViolation records why a process sample was flagged
type ResourceViolation struct {
	PID          int               `json:"pid"`
	Name         string            `json:"name"`
	LimitType    ResourceLimitType `json:"limit_type"`
	CurrentValue float64           `json:"current_value"`
	LimitValue   int               `json:"limit_value"`
	Timestamp    time.Time         `json:"timestamp"`
	Message      string            `json:"message"`
}

// HostInfo is the static device description shown next to the gauges
type HostInfo struct {
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Hostname        string `json:"hostname"`
	TotalRAMBytes   uint64 `json:"total_ram_bytes"`
	TotalDiskBytes  uint64 `json:"total_disk_bytes"`
	DiskPath        string `json:"disk_path"`
}

// TickReport summarises one enforcement pass
type TickReport struct {
	Started    time.Time
	Finished   time.Time
	Rule       ResourceLimitRule
	Scanned    int
	Skipped    int
	Violations int
	Terminated int
	Failed     int

	// InProgress is set when the tick was dropped because another pass
	// was still running
	InProgress bool
}

// EnforcementResult is the outcome of acting on one violating process
type EnforcementResult struct {
	Sample     ProcessSample
	Violations []*ResourceViolation
	Terminated bool
	DryRun     bool
	Err        error
}

// Callback types
type SystemSampleCallback func(sample SystemSample)
type EnforcementCallback func(result EnforcementResult)
