package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
	"github.com/liemle3893/e2e-runner-sub000/internal/apprunner"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/orchestrator"
	"github.com/liemle3893/e2e-runner-sub000/internal/reporter"
	"github.com/liemle3893/e2e-runner-sub000/internal/runlog"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run tests",
	ArgsUsage: "[paths...]",
	Description: `Discovers *.test.yaml files under the given paths (default: the
config's testDir), connects the adapters they need and runs them.

Flags override values from the config file.`,
	Flags: append(append(configFlags(), filterFlags()...),
		&cli.IntFlag{
			Name:    "parallel",
			Aliases: []string{"p"},
			Usage:   "number of tests to run concurrently",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "default per-test timeout",
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "default step retries",
		},
		&cli.BoolFlag{
			Name:  "bail",
			Usage: "stop starting new tests after the first failure",
		},
		&cli.StringSliceFlag{
			Name:  "reporter",
			Usage: "reporter to use, replacing the configured ones (console, junit, json, prometheus)",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Value: runlog.DefaultRoot,
			Usage: "directory holding run directories and reports",
		},
		&cli.BoolFlag{
			Name:  "skip-setup",
			Usage: "do not run setup phases",
		},
		&cli.BoolFlag{
			Name:  "skip-teardown",
			Usage: "do not run teardown phases",
		},
		&cli.BoolFlag{
			Name:  "no-service",
			Usage: "do not start the configured service; it is already running",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "load and validate tests and print what would run",
		},
	),
	Action: runTests,
}

func runTests(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	applyOverrides(c, cfg)
	if err := validateOverrides(cfg); err != nil {
		return err
	}

	filter, err := buildFilter(c)
	if err != nil {
		return err
	}
	hooks, err := hookSteps(cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	out := c.App.Writer
	defs, failed := loadTests(testPaths(c, cfg), filter)
	printLoadErrors(c.App.ErrWriter, failed)
	if len(defs) == 0 {
		if len(failed) > 0 {
			return cli.Exit(fmt.Sprintf("%d test file(s) failed to load", len(failed)), ExitConfigError)
		}
		fmt.Fprintln(out, warnStyle.Render("No tests matched."))
		return nil
	}

	if c.Bool("dry-run") {
		printPlan(out, cfg, defs)
		if len(failed) > 0 {
			return cli.Exit(fmt.Sprintf("%d test file(s) failed to load", len(failed)), ExitConfigError)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := runlog.New(c.String("output-dir"))
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	log.Debug().Str("dir", run.Dir).Msg("created run directory")

	if cfg.Service.IsConfigured() && !c.Bool("no-service") {
		stopService, err := startService(ctx, c.App.ErrWriter, cfg, run)
		if err != nil {
			return err
		}
		defer stopService(context.WithoutCancel(ctx))
	}

	required := testdef.RequiredAdapters(defs, hooks.All())
	registry, err := adapter.NewRegistry(cfg.Environment(), required)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	for t := range required {
		if _, err := registry.Get(t); err != nil {
			return cli.Exit(fmt.Sprintf("tests need the %s adapter but environment %q does not configure it", t, cfg.Env), ExitConfigError)
		}
	}
	if err := registry.ConnectAll(ctx); err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	defer registry.DisconnectAll(context.WithoutCancel(ctx))

	reporters, err := buildReporters(cfg.Reporters, run.Dir, out)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	d := cfg.Defaults
	orch := orchestrator.New(registry, orchestrator.Options{
		Parallel:      d.Parallel,
		Timeout:       d.TimeoutDuration(),
		Retries:       d.Retries,
		RetryDelay:    d.RetryDelayDuration(),
		MaxRetryDelay: d.MaxRetryDelayDuration(),
		Bail:          d.Bail,
		SkipSetup:     c.Bool("skip-setup"),
		SkipTeardown:  c.Bool("skip-teardown"),
		Variables:     cfg.Variables,
		BaseURL:       cfg.Environment().BaseURL,
		HookSteps:     hooks,
	})
	reporter.Attach(orch, reporters)

	suite := orch.RunSuite(ctx, defs)
	if err := reporter.GenerateAll(reporters, suite); err != nil {
		log.Warn().Err(err).Msg("some reports could not be written")
	}
	fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("Reports:"), run.Dir)

	if !suite.Success {
		return cli.Exit(fmt.Sprintf("%d of %d test(s) failed", suite.Failed, suite.Total), ExitTestFailure)
	}
	if len(failed) > 0 {
		return cli.Exit(fmt.Sprintf("%d test file(s) failed to load", len(failed)), ExitConfigError)
	}
	return nil
}

// startService starts the service under test with its output in the run
// directory. An environment without a baseUrl points at the service.
func startService(ctx context.Context, errOut io.Writer, cfg *config.Config, run *runlog.Run) (func(context.Context), error) {
	logFile, err := run.CreateLogFile("service")
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("creating service log: %v", err), ExitConfigError)
	}

	svc := apprunner.New(cfg.Service, logFile)
	if err := svc.Start(ctx); err != nil {
		logFile.Close()
		for _, line := range svc.Tail() {
			fmt.Fprintf(errOut, "    %s %s\n", mutedStyle.Render("│"), line)
		}
		return nil, cli.Exit(fmt.Sprintf("service: %v", err), ExitConfigError)
	}

	env := cfg.Environment()
	if env.BaseURL == "" && svc.BaseURL() != "" {
		env.BaseURL = svc.BaseURL()
		cfg.Environments[cfg.Env] = env
	}
	log.Info().Str("mode", string(svc.Mode())).Str("url", svc.BaseURL()).Msg("service started")

	return func(ctx context.Context) {
		if err := svc.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("stopping service")
		}
		logFile.Close()
	}, nil
}

func applyOverrides(c *cli.Context, cfg *config.Config) {
	d := &cfg.Defaults
	if c.IsSet("parallel") {
		d.Parallel = c.Int("parallel")
	}
	if c.IsSet("timeout") {
		d.Timeout = int(c.Duration("timeout") / time.Millisecond)
	}
	if c.IsSet("retries") {
		d.Retries = c.Int("retries")
	}
	if c.IsSet("bail") {
		d.Bail = c.Bool("bail")
	}
	if c.IsSet("reporter") {
		var reps []config.Reporter
		for _, t := range c.StringSlice("reporter") {
			reps = append(reps, config.Reporter{Type: strings.TrimSpace(t)})
		}
		cfg.Reporters = reps
	}
}

func validateOverrides(cfg *config.Config) error {
	d := cfg.Defaults
	switch {
	case d.Parallel < 1:
		return cli.Exit("--parallel must be at least 1", ExitConfigError)
	case d.Timeout < 0 || d.Timeout > config.MaxTimeout:
		return cli.Exit(fmt.Sprintf("--timeout must be at most %s", time.Duration(config.MaxTimeout)*time.Millisecond), ExitConfigError)
	case d.Retries < 0 || d.Retries > config.MaxRetries:
		return cli.Exit(fmt.Sprintf("--retries must be between 0 and %d", config.MaxRetries), ExitConfigError)
	}
	return nil
}

func buildReporters(cfgs []config.Reporter, runDir string, out io.Writer) ([]reporter.Reporter, error) {
	reps := make([]reporter.Reporter, 0, len(cfgs))
	for _, rc := range cfgs {
		r, err := reporter.New(rc, runDir, out)
		if err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	return reps, nil
}

func printPlan(w io.Writer, cfg *config.Config, defs []*testdef.Definition) {
	fmt.Fprintf(w, "%s\n\n", titleStyle.Render(fmt.Sprintf("Dry run: %d test(s) in environment %s", len(defs), cfg.Env)))
	for _, d := range defs {
		adapters := make([]string, 0)
		for t := range testdef.RequiredAdapters([]*testdef.Definition{d}) {
			adapters = append(adapters, string(t))
		}
		sort.Strings(adapters)

		line := fmt.Sprintf("  [%s] %s", d.Priority, d.Name)
		if d.Skip {
			line += " " + warnStyle.Render("(skip)")
		}
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "       %s\n", mutedStyle.Render(fmt.Sprintf("%s  adapters: %s  steps: %d",
			d.SourceFile, strings.Join(adapters, ","), countSteps(d))))
	}
}

func countSteps(d *testdef.Definition) int {
	n := 0
	for _, p := range testdef.Phases {
		n += len(d.Steps(p))
	}
	return n
}
