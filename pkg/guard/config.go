package guard

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/resourcelimits"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// GuardConfig represents the top-level configuration file structure
type GuardConfig struct {
	Guard   GuardConfigOptions `yaml:"guard"`
	Logging logging.ZapConfig  `yaml:"logging"`
}

// GuardConfigOptions represents guard-level configuration
type GuardConfigOptions struct {
	RuleFile            string        `yaml:"rule_file,omitempty"`
	EnforcementInterval time.Duration `yaml:"enforcement_interval,omitempty"`
	DisplayInterval     time.Duration `yaml:"display_interval,omitempty"`
	CPUSampleWindow     time.Duration `yaml:"cpu_sample_window,omitempty"`
	DiskPath            string        `yaml:"disk_path,omitempty"`
	DisplayEnabled      *bool         `yaml:"display_enabled,omitempty"` // Pointer to distinguish unset from false
	DryRun              bool          `yaml:"dry_run,omitempty"`
}

// IsDisplayEnabled reports whether the display task should run
func (o GuardConfigOptions) IsDisplayEnabled() bool {
	return o.DisplayEnabled == nil || *o.DisplayEnabled
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *GuardConfig {
	config := &GuardConfig{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads guard configuration from a YAML file
func LoadConfigFromFile(filename string) (*GuardConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config GuardConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *GuardConfig) {
	if config.Guard.RuleFile == "" {
		config.Guard.RuleFile = resourcelimits.DefaultRuleFile
	}
	if config.Guard.EnforcementInterval == 0 {
		config.Guard.EnforcementInterval = resourcelimits.DefaultEnforcementInterval
	}
	if config.Guard.DisplayInterval == 0 {
		config.Guard.DisplayInterval = resourcelimits.DefaultDisplayInterval
	}
	if config.Guard.CPUSampleWindow == 0 {
		config.Guard.CPUSampleWindow = resourcelimits.DefaultCPUSampleWindow
	}
	if config.Guard.DiskPath == "" {
		config.Guard.DiskPath = resourcelimits.DefaultDiskPath
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}

// ValidateConfig validates the entire configuration structure and reports
// every problem found, not just the first one
func ValidateConfig(config *GuardConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	err := multierr.Combine(
		validateGuardConfig(&config.Guard),
		validateLoggingConfig(&config.Logging),
	)
	if err != nil {
		return errors.NewValidationError("invalid configuration", err)
	}
	return nil
}

func validateGuardConfig(config *GuardConfigOptions) error {
	var err error

	if config.RuleFile == "" {
		err = multierr.Append(err, errors.NewValidationError("rule_file cannot be empty", nil))
	}
	if config.EnforcementInterval <= 0 {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("enforcement_interval must be positive, got %s", config.EnforcementInterval), nil))
	}
	if config.DisplayInterval <= 0 {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("display_interval must be positive, got %s", config.DisplayInterval), nil))
	}
	if config.CPUSampleWindow <= 0 {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("cpu_sample_window must be positive, got %s", config.CPUSampleWindow), nil))
	} else if config.EnforcementInterval > 0 && config.CPUSampleWindow >= config.EnforcementInterval {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("cpu_sample_window (%s) must be shorter than enforcement_interval (%s)",
				config.CPUSampleWindow, config.EnforcementInterval), nil))
	}

	return err
}

func validateLoggingConfig(config *logging.ZapConfig) error {
	var err error

	if _, levelErr := logging.ParseLevel(config.Level); levelErr != nil {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error"))
	}
	if !oneOf(config.Format, "console", "json") {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.Format),
			nil,
		).WithContext("valid_formats", "console, json"))
	}
	if !oneOf(config.Output, "stdout", "stderr") {
		err = multierr.Append(err, errors.NewValidationError(
			fmt.Sprintf("invalid log output: %s", config.Output),
			nil,
		).WithContext("valid_outputs", "stdout, stderr"))
	}

	return err
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateConfigFile validates a configuration file without loading/running
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}
