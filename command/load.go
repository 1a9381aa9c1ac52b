package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
	"github.com/liemle3893/e2e-runner-sub000/internal/orchestrator"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "config file path (default: e2e.config.yaml in the working directory)",
		},
		&cli.StringFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "environment to use from the config file",
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "tags",
			Usage: "only tests having any of these tags",
		},
		&cli.StringSliceFlag{
			Name:  "priority",
			Usage: "only tests with these priorities (P0..P3)",
		},
		&cli.StringFlag{
			Name:  "grep",
			Usage: "only tests whose name matches this pattern",
		},
	}
}

// loadConfig reads the config file. Without an explicit --config and with
// no default file present, optional commands fall back to defaults.
func loadConfig(c *cli.Context, required bool) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		found, err := config.Find(".")
		if err != nil {
			if required {
				return nil, cli.Exit(err.Error(), ExitConfigError)
			}
			log.Debug().Msg("no config file, using defaults")
			cfg, err := config.Default(c.String("env"))
			if err != nil {
				return nil, cli.Exit(err.Error(), ExitConfigError)
			}
			return cfg, nil
		}
		path = found
	}

	cfg, err := config.Load(path, c.String("env"))
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitConfigError)
	}
	log.Debug().Str("path", path).Str("env", cfg.Env).Msg("loaded config")
	return cfg, nil
}

func buildFilter(c *cli.Context) (testdef.Filter, error) {
	priorities, err := testdef.ParsePriorities(c.StringSlice("priority"))
	if err != nil {
		return testdef.Filter{}, cli.Exit(err.Error(), ExitConfigError)
	}
	return testdef.Filter{
		Tags:       c.StringSlice("tags"),
		Priorities: priorities,
		Grep:       c.String("grep"),
	}, nil
}

// testPaths returns the positional arguments, or the config's test
// directory resolved against the config file.
func testPaths(c *cli.Context, cfg *config.Config) []string {
	if c.Args().Len() > 0 {
		return c.Args().Slice()
	}
	dir := cfg.TestDir
	if cfg.Path != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(cfg.Path), dir)
	}
	return []string{dir}
}

// loadTests loads documents under paths plus the registered Go tests.
// A missing default test directory is not an error when Go tests exist.
func loadTests(paths []string, f testdef.Filter) ([]*testdef.Definition, []*errs.LoaderError) {
	var (
		defs   []*testdef.Definition
		failed []*errs.LoaderError
	)

	registered, regFailed := testdef.LoadRegistered(f)
	failed = append(failed, regFailed...)

	existing := paths[:0:0]
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil && errors.Is(err, os.ErrNotExist) && len(registered) > 0 {
			log.Debug().Str("path", p).Msg("test path does not exist, using registered tests only")
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) > 0 {
		docs, docFailed := testdef.LoadAll(existing, f)
		defs = append(defs, docs...)
		failed = append(failed, docFailed...)
	}

	return append(defs, registered...), failed
}

func printLoadErrors(w io.Writer, failed []*errs.LoaderError) {
	for _, le := range failed {
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("✗"), le.Error())
	}
}

func hookSteps(cfg *config.Config) (orchestrator.HookSteps, error) {
	var (
		out orchestrator.HookSteps
		err error
	)
	lists := []struct {
		name string
		raw  []map[string]any
		dst  *[]testdef.Step
	}{
		{"beforeAll", cfg.Hooks.BeforeAll, &out.BeforeAll},
		{"afterAll", cfg.Hooks.AfterAll, &out.AfterAll},
		{"beforeEach", cfg.Hooks.BeforeEach, &out.BeforeEach},
		{"afterEach", cfg.Hooks.AfterEach, &out.AfterEach},
	}
	for _, l := range lists {
		if *l.dst, err = testdef.ParseSteps(l.raw, l.name); err != nil {
			return out, &errs.ConfigError{Field: "hooks." + l.name, Message: "invalid hook steps", Cause: err}
		}
	}
	return out, nil
}
