package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/runlog"
)

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "List previous runs and their reports",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "output-dir",
			Value: runlog.DefaultRoot,
			Usage: "directory holding run directories",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 10,
			Usage: "show at most this many runs",
		},
	},
	Action: func(c *cli.Context) error {
		runs, err := runlog.List(c.String("output-dir"))
		if err != nil {
			return err
		}
		out := c.App.Writer
		if len(runs) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No runs yet."))
			return nil
		}
		if limit := c.Int("limit"); limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}
		for _, r := range runs {
			fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(r.Name), mutedStyle.Render(r.Timestamp.Format("2006-01-02 15:04:05")))
			for _, f := range r.Files {
				fmt.Fprintf(out, "    %s %s\n", f.Name, mutedStyle.Render(fmt.Sprintf("(%d bytes)", f.Size)))
			}
		}
		return nil
	},
}
