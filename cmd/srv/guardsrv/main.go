package main

import (
	"context"
	"fmt"
	"os"

	"github.com/core-tools/hsu-guard/pkg/guard"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/resourcelimits"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the YAML configuration file"`
	RuleFile    string `long:"rule-file" description:"path to the JSON rule file"`
	RunDuration int    `long:"run-duration" description:"stop after this many seconds"`
	Once        bool   `long:"once" description:"run a single enforcement tick and exit"`
	DryRun      bool   `long:"dry-run" description:"report violators without terminating them"`
	LogLevel    string `long:"log-level" description:"debug, info, warn or error"`
	NoDisplay   bool   `long:"no-display" description:"disable the usage gauges"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config := guard.DefaultConfig()
	if opts.Config != "" {
		config, err = guard.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	applyFlagOverrides(config, opts)

	if err := guard.ValidateConfig(config); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	backend, err := logging.NewZapBackend(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()

	logger := backend.Logger("hsu-guard")

	logger.Infof("opts: %+v", opts)

	runOptions := guard.RunOptions{
		RunDuration:   opts.RunDuration,
		Once:          opts.Once,
		OnEnforcement: logEnforcement(logger),
	}
	if config.Guard.IsDisplayEnabled() && !opts.Once {
		runOptions.OnSample = newDisplay(backend.Logger("display"))
	}

	if err := guard.Run(context.Background(), config, runOptions, logger); err != nil {
		logger.Errorf("Guard run failed: %v", err)
		backend.Sync()
		os.Exit(1)
	}
}

func applyFlagOverrides(config *guard.GuardConfig, opts flagOptions) {
	if opts.RuleFile != "" {
		config.Guard.RuleFile = opts.RuleFile
	}
	if opts.DryRun {
		config.Guard.DryRun = true
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.NoDisplay {
		disabled := false
		config.Guard.DisplayEnabled = &disabled
	}
}

// newDisplay draws gauges in place on a terminal and falls back to log
// lines when stdout is redirected
func newDisplay(logger logging.Logger) resourcelimits.SystemSampleCallback {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return func(sample resourcelimits.SystemSample) {
			logger.Infof("%s", renderSample(sample, defaultBarWidth, false))
		}
	}

	return func(sample resourcelimits.SystemSample) {
		width, _, err := term.GetSize(fd)
		if err != nil {
			width = 0
		}
		fmt.Printf("\r\033[K%s", renderSample(sample, barWidth(width), true))
	}
}

func logEnforcement(logger logging.Logger) resourcelimits.EnforcementCallback {
	return func(result resourcelimits.EnforcementResult) {
		if result.DryRun {
			return
		}
		for _, v := range result.Violations {
			logger.Debugf("Violation detail, pid: %d, type: %s, current: %.1f, limit: %d",
				v.PID, v.LimitType, v.CurrentValue, v.LimitValue)
		}
	}
}
