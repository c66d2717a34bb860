package resourcelimits

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-guard/pkg/logging"
)

type resourceViolationChecker struct {
	logger logging.Logger
}

func NewResourceViolationChecker(logger logging.Logger) ResourceViolationChecker {
	return &resourceViolationChecker{
		logger: logger,
	}
}

// CheckViolations returns one violation per ceiling the sample strictly
// exceeds. A sample exactly at a ceiling is not a violation. No pid is
// exempt.
func (rv *resourceViolationChecker) CheckViolations(sample ProcessSample, rule ResourceLimitRule) []*ResourceViolation {
	now := time.Now()

	var violations []*ResourceViolation

	if sample.CPUPercent > float64(rule.MaxCPUPercent) {
		violations = append(violations, &ResourceViolation{
			PID:          sample.PID,
			Name:         sample.Name,
			LimitType:    ResourceLimitTypeCPU,
			CurrentValue: sample.CPUPercent,
			LimitValue:   rule.MaxCPUPercent,
			Timestamp:    now,
			Message:      fmt.Sprintf("CPU usage (%.1f%%) exceeds limit (%d%%)", sample.CPUPercent, rule.MaxCPUPercent),
		})
	}

	if sample.RAMPercent > float64(rule.MaxRAMPercent) {
		violations = append(violations, &ResourceViolation{
			PID:          sample.PID,
			Name:         sample.Name,
			LimitType:    ResourceLimitTypeMemory,
			CurrentValue: sample.RAMPercent,
			LimitValue:   rule.MaxRAMPercent,
			Timestamp:    now,
			Message:      fmt.Sprintf("Memory usage (%.1f%%) exceeds limit (%d%%)", sample.RAMPercent, rule.MaxRAMPercent),
		})
	}

	if len(violations) > 0 {
		rv.logger.Debugf("Process %s (PID: %d) violates %d limit(s) of rule %s", sample.Name, sample.PID, len(violations), rule)
	}

	return violations
}
