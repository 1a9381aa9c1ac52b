package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Validate configuration and test files",
	ArgsUsage: "[paths...]",
	Flags:     configFlags(),
	Action:    runValidate,
}

func runValidate(c *cli.Context) error {
	out := c.App.Writer
	fmt.Fprintf(out, "%s\n\n", titleStyle.Render("Validating e2e configuration"))

	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	problems := 0

	if cfg.Path != "" {
		fmt.Fprintf(out, "%s %s (environment %s)\n", successStyle.Render("✓"), cfg.Path, cfg.Env)
	}
	if _, err := hookSteps(cfg); err != nil {
		problems++
		fmt.Fprintf(out, "%s %s\n", errorStyle.Render("✗"), err)
	}

	defs, failed := loadTests(testPaths(c, cfg), testdef.Filter{})
	for _, d := range defs {
		fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("✓"), d.Name, mutedStyle.Render(d.SourceFile))
	}
	printLoadErrors(out, failed)
	problems += len(failed)

	fmt.Fprintln(out)
	if problems > 0 {
		return cli.Exit(fmt.Sprintf("validation failed: %d problem(s), %d valid test(s)", problems, len(defs)), ExitConfigError)
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("All %d test(s) valid.", len(defs))))
	return nil
}
