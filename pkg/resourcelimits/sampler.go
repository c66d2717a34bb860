package resourcelimits

import (
	"context"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultCPUSampleWindow is the interval over which per-process CPU%
	// is measured. Thresholds only compare meaningfully against a fixed
	// window, so every listing uses the same one.
	DefaultCPUSampleWindow = 500 * time.Millisecond

	DefaultDiskPath = "/"
)

// SamplerConfig configures the host sampler
type SamplerConfig struct {
	DiskPath        string
	CPUSampleWindow time.Duration
}

type hostSampler struct {
	config SamplerConfig
	logger logging.Logger
}

// NewMetricsSampler creates a MetricsSampler reading the local host
func NewMetricsSampler(config SamplerConfig, logger logging.Logger) HostMetricsSampler {
	if config.DiskPath == "" {
		config.DiskPath = DefaultDiskPath
	}
	if config.CPUSampleWindow <= 0 {
		config.CPUSampleWindow = DefaultCPUSampleWindow
	}
	return &hostSampler{
		config: config,
		logger: logger,
	}
}

// SampleSystem reads host CPU, RAM and disk usage. Host CPU% is measured
// since the previous call, so its window is the caller's tick period.
func (s *hostSampler) SampleSystem(ctx context.Context) (SystemSample, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return SystemSample{}, errors.NewInternalError("failed to get CPU usage", err)
	}
	cpuVal := 0.0
	if len(cpuPercent) > 0 {
		cpuVal = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemSample{}, errors.NewInternalError("failed to get memory usage", err)
	}

	diskStat, err := disk.UsageWithContext(ctx, s.config.DiskPath)
	if err != nil {
		return SystemSample{}, errors.NewInternalError("failed to get disk usage", err).WithContext("path", s.config.DiskPath)
	}

	return SystemSample{
		CPUPercent:  cpuVal,
		RAMPercent:  memStat.UsedPercent,
		DiskPercent: diskStat.UsedPercent,
		Timestamp:   time.Now(),
	}, nil
}

// DescribeHost returns static information about the host
func (s *hostSampler) DescribeHost(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, errors.NewInternalError("failed to get host info", err)
	}
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostInfo{}, errors.NewInternalError("failed to get memory info", err)
	}
	diskStat, err := disk.UsageWithContext(ctx, s.config.DiskPath)
	if err != nil {
		return HostInfo{}, errors.NewInternalError("failed to get disk info", err).WithContext("path", s.config.DiskPath)
	}

	return HostInfo{
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Hostname:        info.Hostname,
		TotalRAMBytes:   memStat.Total,
		TotalDiskBytes:  diskStat.Total,
		DiskPath:        s.config.DiskPath,
	}, nil
}

// ListProcesses snapshots the pid table, records each process's CPU
// times, and waits one CPUSampleWindow. Samples are then produced one at
// a time by the returned iterator.
func (s *hostSampler) ListProcesses(ctx context.Context) (ProcessIterator, error) {
	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.NewInternalError("failed to get total memory", err)
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, errors.NewInternalError("failed to list processes", err)
	}

	it := &processIterator{
		ctx:      ctx,
		logger:   s.logger,
		totalMem: memStat.Total,
		procs:    make([]*process.Process, 0, len(pids)),
	}

	for _, pid := range pids {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			it.skip(int(pid), "open", err)
			continue
		}
		// The first call only records CPU times
		if _, err := p.PercentWithContext(ctx, 0); err != nil {
			it.skip(int(pid), "prime CPU times", err)
			continue
		}
		it.procs = append(it.procs, p)
	}

	timer := time.NewTimer(s.config.CPUSampleWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.NewCancelledError("process listing cancelled", ctx.Err())
	case <-timer.C:
	}

	s.logger.Debugf("Process listing primed %d processes, skipped %d", len(it.procs), it.skipped)
	return it, nil
}

type processIterator struct {
	ctx      context.Context
	logger   logging.Logger
	totalMem uint64
	procs    []*process.Process
	next     int
	skipped  int
	err      error
}

func (it *processIterator) Next() (ProcessSample, bool) {
	for it.err == nil && it.next < len(it.procs) {
		if err := it.ctx.Err(); err != nil {
			it.err = errors.NewCancelledError("process listing cancelled", err)
			break
		}

		p := it.procs[it.next]
		it.next++

		sample, err := it.sample(p)
		if err != nil {
			it.skip(int(p.Pid), "sample", err)
			continue
		}
		return sample, true
	}
	return ProcessSample{}, false
}

func (it *processIterator) Skipped() int {
	return it.skipped
}

func (it *processIterator) Err() error {
	return it.err
}

func (it *processIterator) sample(p *process.Process) (ProcessSample, error) {
	name, err := p.NameWithContext(it.ctx)
	if err != nil {
		return ProcessSample{}, err
	}
	cpuPercent, err := p.PercentWithContext(it.ctx, 0)
	if err != nil {
		return ProcessSample{}, err
	}
	memInfo, err := p.MemoryInfoWithContext(it.ctx)
	if err != nil {
		return ProcessSample{}, err
	}

	ramPercent := 0.0
	if it.totalMem > 0 {
		ramPercent = float64(memInfo.RSS) / float64(it.totalMem) * 100
	}

	return ProcessSample{
		PID:        int(p.Pid),
		Name:       name,
		CPUPercent: cpuPercent,
		RAMPercent: ramPercent,
	}, nil
}

// skip drops an entry whose process exited or denied access mid-listing
func (it *processIterator) skip(pid int, stage string, err error) {
	it.skipped++
	it.logger.Debugf("Skipping PID %d (%s): %v", pid, stage, err)
}
