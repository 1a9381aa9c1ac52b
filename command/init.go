package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Create e2e.config.yaml and an example test",
	Description: `Writes a starter configuration for the selected adapters and an
example test under tests/.`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "adapters",
			Usage: "backend adapters to configure (postgresql, redis, mongodb, eventhub)",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Value: "http://localhost:3000",
			Usage: "base URL of the service under test",
		},
		&cli.StringFlag{
			Name:  "dir",
			Value: ".",
			Usage: "project directory",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
	},
	Action: runInit,
}

var adapterTemplates = map[adapter.Type]string{
	adapter.PostgreSQL: `      postgresql:
        connectionString: ${DATABASE_URL}
        schema: public
        poolSize: 10
`,
	adapter.Redis: `      redis:
        connectionString: redis://localhost:6379/0
        keyPrefix: "e2e:"
`,
	adapter.MongoDB: `      mongodb:
        connectionString: mongodb://localhost:27017
        database: e2e
`,
	adapter.EventHub: `      eventhub:
        connectionString: ${EVENTHUB_CONNECTION_STRING}
        consumerGroup: e2e-runner
`,
}

const exampleTest = `name: health check
description: the service answers on /health
priority: P0
tags: [smoke]

execute:
  - adapter: http
    action: request
    method: GET
    url: /health
    assert:
      status: 200
`

func runInit(c *cli.Context) error {
	var selected []adapter.Type
	for _, v := range c.StringSlice("adapters") {
		t, err := adapter.ParseType(strings.TrimSpace(v))
		if err != nil || t == adapter.HTTP {
			return cli.Exit(fmt.Sprintf("cannot configure adapter %q", v), ExitConfigError)
		}
		selected = append(selected, t)
	}

	dir := c.String("dir")
	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(dir, "e2e.config.yaml"), renderConfig(c.String("base-url"), selected)},
		{filepath.Join(dir, "tests", "health.test.yaml"), exampleTest},
	}

	if !c.Bool("force") {
		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil {
				return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", f.path), ExitConfigError)
			}
		}
	}

	out := c.App.Writer
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
		fmt.Fprintf(out, "%s %s\n", successStyle.Render("created"), f.path)
	}
	fmt.Fprintf(out, "\nNext: %s\n", titleStyle.Render("e2e run"))
	return nil
}

func renderConfig(baseURL string, adapters []adapter.Type) string {
	var b strings.Builder
	b.WriteString("version: 1\ntestDir: ./tests\n\nenvironments:\n  local:\n")
	fmt.Fprintf(&b, "    baseUrl: %s\n", baseURL)
	if len(adapters) > 0 {
		b.WriteString("    adapters:\n")
		for _, t := range adapter.Types() {
			for _, s := range adapters {
				if s == t {
					b.WriteString(adapterTemplates[t])
					break
				}
			}
		}
	}
	b.WriteString(`
defaults:
  timeout: 30000
  retries: 0
  retryDelay: 1000
  parallel: 1

reporters:
  - type: console
  - type: junit
`)
	return b.String()
}
