package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/liemle3893/e2e-runner-sub000/internal/adapter"
)

var healthCommand = &cli.Command{
	Name:  "health",
	Usage: "Connect to every configured adapter and check it",
	Flags: append(configFlags(),
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "overall time limit",
		},
	),
	Action: runHealth,
}

func runHealth(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	registry, err := adapter.NewRegistry(cfg.Environment(), nil)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	out := c.App.Writer
	types := registry.Types()
	if len(types) == 0 {
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("No adapters configured for environment %s.", cfg.Env)))
		return nil
	}

	if err := registry.ConnectAll(ctx); err != nil {
		registry.DisconnectAll(context.WithoutCancel(ctx))
		return cli.Exit(err.Error(), ExitConfigError)
	}
	defer registry.DisconnectAll(context.WithoutCancel(ctx))

	status := registry.HealthCheckAll(ctx)
	unhealthy := 0
	fmt.Fprintf(out, "%s\n\n", titleStyle.Render("Adapter health ("+cfg.Env+")"))
	for _, t := range types {
		if status[t] {
			fmt.Fprintf(out, "  %s %s\n", successStyle.Render("✓"), t)
			continue
		}
		unhealthy++
		fmt.Fprintf(out, "  %s %s\n", errorStyle.Render("✗"), t)
	}

	if unhealthy > 0 {
		return cli.Exit(fmt.Sprintf("%d adapter(s) unhealthy", unhealthy), ExitConfigError)
	}
	return nil
}
