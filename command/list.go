package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

var listCommand = &cli.Command{
	Name:      "list",
	Usage:     "List tests without loading them fully",
	ArgsUsage: "[paths...]",
	Flags: append(append(configFlags(), filterFlags()...),
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print metadata as JSON",
		},
	),
	Action: runList,
}

type listEntry struct {
	Name     string           `json:"name"`
	Priority testdef.Priority `json:"priority"`
	Tags     []string         `json:"tags,omitempty"`
	Skip     bool             `json:"skip,omitempty"`
	File     string           `json:"file"`
}

func runList(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	filter, err := buildFilter(c)
	if err != nil {
		return err
	}

	files, err := testdef.Discover(testPaths(c, cfg))
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	var (
		entries []listEntry
		bad     int
	)
	add := func(m testdef.Metadata) {
		if filter.Match(m) {
			entries = append(entries, listEntry{Name: m.Name, Priority: m.Priority, Tags: m.Tags, Skip: m.Skip, File: m.SourceFile})
		}
	}
	for _, f := range files {
		m, err := testdef.ReadYAMLMetadata(f)
		if err != nil {
			bad++
			fmt.Fprintf(c.App.ErrWriter, "%s %s: %v\n", errorStyle.Render("✗"), f, err)
			continue
		}
		add(m)
	}
	registered, sources := testdef.Registered()
	for i, p := range registered {
		add(testdef.ProceduralMetadata(p, sources[i]))
	}

	out := c.App.Writer
	if c.Bool("json") {
		if entries == nil {
			entries = []listEntry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return err
		}
	} else {
		for _, e := range entries {
			line := fmt.Sprintf("[%s] %s", e.Priority, e.Name)
			if len(e.Tags) > 0 {
				line += " " + mutedStyle.Render("#"+strings.Join(e.Tags, " #"))
			}
			if e.Skip {
				line += " " + warnStyle.Render("(skip)")
			}
			fmt.Fprintf(out, "%s\n    %s\n", line, mutedStyle.Render(e.File))
		}
		fmt.Fprintf(out, "\n%d test(s)\n", len(entries))
	}

	if bad > 0 {
		return cli.Exit(fmt.Sprintf("%d test file(s) could not be read", bad), ExitConfigError)
	}
	return nil
}
