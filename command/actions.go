package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
)

var actionsCommand = &cli.Command{
	Name:  "actions",
	Usage: "List the actions each adapter supports",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "Filter actions by keyword",
		},
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Filter by adapter (http, postgresql, redis, mongodb, eventhub)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
	},
	Action: runActions,
}

type actionCategory struct {
	Adapter     string   `json:"adapter"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

var adapterDescriptions = map[adapter.Type]string{
	adapter.HTTP:       "HTTP requests against the environment's baseUrl",
	adapter.PostgreSQL: "SQL statements with positional parameters",
	adapter.Redis:      "key, hash and pattern commands",
	adapter.MongoDB:    "collection reads and writes",
	adapter.EventHub:   "publish and consume events",
}

func runActions(c *cli.Context) error {
	filter := strings.ToLower(c.String("filter"))
	typeFilter := strings.ToLower(c.String("type"))

	var categories []actionCategory
	for _, t := range adapter.Types() {
		if typeFilter != "" && !strings.HasPrefix(string(t), typeFilter) {
			continue
		}
		var matching []string
		for _, a := range adapter.Actions(t) {
			if filter != "" && !strings.Contains(strings.ToLower(a), filter) {
				continue
			}
			matching = append(matching, a)
		}
		if len(matching) == 0 {
			continue
		}
		categories = append(categories, actionCategory{
			Adapter:     string(t),
			Description: adapterDescriptions[t],
			Actions:     matching,
		})
	}

	out := c.App.Writer
	if c.Bool("json") {
		data, err := json.MarshalIndent(categories, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(categories) == 0 {
		fmt.Fprintln(out, warnStyle.Render("No actions matched."))
		return nil
	}
	for _, cat := range categories {
		fmt.Fprintf(out, "\n%s  %s\n", titleStyle.Render(cat.Adapter), mutedStyle.Render(cat.Description))
		for _, a := range cat.Actions {
			fmt.Fprintf(out, "  %s\n", a)
		}
	}
	return nil
}
