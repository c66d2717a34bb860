package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
	"github.com/core-tools/hsu-guard/pkg/resourcelimits"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	RuleFile string `long:"rule-file" description:"path to the JSON rule file" default:"kural.json"`
	LogLevel string `long:"log-level" description:"debug, info, warn or error" default:"warn"`
	DiskPath string `long:"disk-path" description:"filesystem reported as disk usage" default:"/"`
}

var opts globalOptions

type showCommand struct{}

type setCommand struct {
	CPU string `long:"cpu" description:"maximum CPU percent per process" required:"true"`
	RAM string `long:"ram" description:"maximum RAM percent per process" required:"true"`
}

type infoCommand struct{}

type sampleCommand struct{}

type scanCommand struct {
	Window time.Duration `long:"window" description:"CPU sample window" default:"500ms"`
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.AddCommand("show", "Print the current rule", "Loads the rule file and prints the effective limits.", &showCommand{})
	parser.AddCommand("set", "Save a new rule", "Validates and atomically writes a new rule file.", &setCommand{})
	parser.AddCommand("info", "Print host information", "Prints OS, hostname and total RAM and disk.", &infoCommand{})
	parser.AddCommand("sample", "Print one usage sample", "Prints host CPU, RAM and disk usage.", &sampleCommand{})
	parser.AddCommand("scan", "List processes over the limits", "Runs one enforcement pass in dry-run mode.", &scanCommand{})

	if _, err := parser.Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger(module string) logging.Logger {
	config := logging.DefaultZapConfig()
	config.Level = opts.LogLevel
	config.Output = "stderr"
	backend, err := logging.NewZapBackend(config)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return backend.Logger(module)
}

func newSampler(logger logging.Logger, window time.Duration) resourcelimits.HostMetricsSampler {
	return resourcelimits.NewMetricsSampler(resourcelimits.SamplerConfig{
		DiskPath:        opts.DiskPath,
		CPUSampleWindow: window,
	}, logger)
}

func (c *showCommand) Execute(args []string) error {
	store := resourcelimits.NewFileRuleStore(opts.RuleFile, newLogger("rules"))
	rule := store.Load()
	fmt.Printf("Rule file: %s\n", opts.RuleFile)
	fmt.Printf("Max CPU: %d%%\n", rule.MaxCPUPercent)
	fmt.Printf("Max RAM: %d%%\n", rule.MaxRAMPercent)
	if rule.IsZero() {
		fmt.Println("Warning: every process using any CPU or RAM will be terminated")
	}
	return nil
}

func (c *setCommand) Execute(args []string) error {
	rule, err := resourcelimits.ParseRule(c.CPU, c.RAM)
	if err != nil {
		var domainErr *errors.DomainError
		if goerrors.As(err, &domainErr) && domainErr.Type == errors.ErrorTypeValidation {
			return fmt.Errorf("invalid rule: %s", domainErr.Message)
		}
		return err
	}

	store := resourcelimits.NewFileRuleStore(opts.RuleFile, newLogger("rules"))
	if err := store.Save(rule); err != nil {
		return fmt.Errorf("failed to save rule: %v", err)
	}
	fmt.Printf("Saved %s to %s\n", rule, opts.RuleFile)
	return nil
}

func (c *infoCommand) Execute(args []string) error {
	sampler := newSampler(newLogger("sampler"), 0)
	info, err := sampler.DescribeHost(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("OS: %s %s %s\n", info.OS, info.Platform, info.PlatformVersion)
	fmt.Printf("Kernel: %s\n", info.KernelVersion)
	fmt.Printf("Hostname: %s\n", info.Hostname)
	fmt.Printf("Total RAM: %.2f GB\n", float64(info.TotalRAMBytes)/(1<<30))
	fmt.Printf("Total disk (%s): %.2f GB\n", info.DiskPath, float64(info.TotalDiskBytes)/(1<<30))
	return nil
}

func (c *sampleCommand) Execute(args []string) error {
	sampler := newSampler(newLogger("sampler"), 0)
	ctx := context.Background()

	// Host CPU% is measured between calls
	if _, err := sampler.SampleSystem(ctx); err != nil {
		return err
	}
	time.Sleep(resourcelimits.DefaultCPUSampleWindow)
	sample, err := sampler.SampleSystem(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("CPU: %.1f%%\n", sample.CPUPercent)
	fmt.Printf("RAM: %.1f%%\n", sample.RAMPercent)
	fmt.Printf("Disk: %.1f%%\n", sample.DiskPercent)
	return nil
}

func (c *scanCommand) Execute(args []string) error {
	logger := newLogger("scan")
	store := resourcelimits.NewFileRuleStore(opts.RuleFile, logger)
	engine := resourcelimits.NewEnforcementEngine(
		resourcelimits.EngineOptions{DryRun: true},
		store,
		newSampler(logger, c.Window),
		resourcelimits.NewProcessTerminator(logger),
		logger,
	)
	engine.SetEnforcementCallback(func(result resourcelimits.EnforcementResult) {
		for _, v := range result.Violations {
			fmt.Printf("%7d  %-24s %s\n", result.Sample.PID, result.Sample.Name, v.Message)
		}
	})

	report := engine.Tick(context.Background())
	fmt.Printf("Rule: %s, scanned: %d, skipped: %d, would terminate: %d\n",
		report.Rule, report.Scanned, report.Skipped, report.Violations)
	return nil
}
