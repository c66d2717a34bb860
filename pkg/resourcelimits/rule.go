package resourcelimits

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-guard/pkg/errors"
)

const (
	ruleFieldCPU = "max_cpu"
	ruleFieldRAM = "max_ram"
)

// ResourceLimitRule is the persisted pair of per-process ceilings, in
// percent. A process strictly above either ceiling is terminated.
type ResourceLimitRule struct {
	MaxCPUPercent int `json:"max_cpu"`
	MaxRAMPercent int `json:"max_ram"`
}

func (r ResourceLimitRule) String() string {
	return fmt.Sprintf("max_cpu=%d%% max_ram=%d%%", r.MaxCPUPercent, r.MaxRAMPercent)
}

// IsZero is true for the default rule, under which any non-zero usage
// is a violation.
func (r ResourceLimitRule) IsZero() bool {
	return r.MaxCPUPercent == 0 && r.MaxRAMPercent == 0
}

// Validate checks both ceilings are non-negative
func (r ResourceLimitRule) Validate() error {
	if r.MaxCPUPercent < 0 {
		return invalidField(ruleFieldCPU, strconv.Itoa(r.MaxCPUPercent), nil)
	}
	if r.MaxRAMPercent < 0 {
		return invalidField(ruleFieldRAM, strconv.Itoa(r.MaxRAMPercent), nil)
	}
	return nil
}

// ParseRule converts operator input into a rule. Each field must be a
// non-negative decimal integer.
func ParseRule(cpuText, ramText string) (ResourceLimitRule, error) {
	cpu, err := parseLimit(ruleFieldCPU, cpuText)
	if err != nil {
		return ResourceLimitRule{}, err
	}
	ram, err := parseLimit(ruleFieldRAM, ramText)
	if err != nil {
		return ResourceLimitRule{}, err
	}
	return ResourceLimitRule{MaxCPUPercent: cpu, MaxRAMPercent: ram}, nil
}

func parseLimit(field, text string) (int, error) {
	text = strings.TrimSpace(text)
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, invalidField(field, text, err)
	}
	if value < 0 {
		return 0, invalidField(field, text, nil)
	}
	return value, nil
}

func invalidField(field, value string, cause error) error {
	return errors.NewValidationError(
		fmt.Sprintf("%s must be a non-negative integer, got %q: enter a valid integer", field, value),
		cause,
	).WithContext("field", field)
}
