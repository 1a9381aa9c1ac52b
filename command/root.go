// Package command implements the e2e command line.
package command

import (
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/logging"
	"github.com/liemle3893/e2e-runner-sub000/internal/version"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitTestFailure = 1
	ExitConfigError = 2
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// Run runs the CLI with os.Stdout and os.Stderr.
func Run(args []string) error {
	return NewApp(os.Stdout, os.Stderr).Run(args)
}

// NewApp builds the CLI writing to stdout and stderr. Errors are returned
// from Run instead of exiting; use ExitCode to map them.
func NewApp(stdout, stderr io.Writer) *cli.App {
	app := &cli.App{
		Name:    "e2e",
		Usage:   "End-to-end test runner for HTTP services and their backends",
		Version: version.Version,
		Description: `Runs declarative YAML tests and registered Go tests against HTTP APIs,
PostgreSQL, Redis, MongoDB and Event Hubs, with retries, captures and
assertions. Configuration lives in e2e.config.yaml.`,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from a .env file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.Bool("verbose"), c.App.ErrWriter)
			if envFile := c.String("env-file"); envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return cli.Exit("loading env file: "+err.Error(), ExitConfigError)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand,
			newCommand,
			runCommand,
			validateCommand,
			listCommand,
			healthCommand,
			actionsCommand,
			runsCommand,
			versionCommand,
		},
		ExitErrHandler:        func(*cli.Context, error) {},
		CustomAppHelpTemplate: appHelpTemplate,
	}
	for _, cmd := range app.Commands {
		cmd.CustomHelpTemplate = commandHelpTemplate
	}
	return app
}

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	// Flag and usage errors.
	return ExitConfigError
}
