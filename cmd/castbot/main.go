package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"castbot/internal/app"
)

var (
	// Populated at build time via -ldflags.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	f := &flags{}
	cmd := &cli.Command{
		Name:    "castbot",
		Usage:   "Telegram broadcast bot",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the config file (yaml or json); empty reads the environment only",
				Sources:     cli.EnvVars("CASTBOT_CONFIG"),
				Value:       "./config.yaml",
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level for CLI commands",
				Sources:     cli.EnvVars("CASTBOT_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the bot",
				Action: f.run,
			},
			recipientsCommand(f),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'castbot --help' for usage", c.Args().First())
			}
			return f.run(ctx, c)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func (f *flags) run(ctx context.Context, _ *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, f.ConfigPath)
	if err != nil {
		return err
	}

	reason := app.StopSignal
	if err := a.Start(ctx); err != nil {
		reason = app.StopFatalError
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
		return fmt.Errorf("start: %w", err)
	}

	<-a.Done()
	runErr := a.Err()
	if runErr != nil {
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return runErr
}
