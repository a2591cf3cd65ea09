package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"gv2cal/internal/app"
	"gv2cal/internal/config"
	"gv2cal/internal/ics"
	appLog "gv2cal/internal/log"
)

const version = "1.0.0"

func run(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadEnvFile(cmd.String("env-file")); err != nil {
		return err
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath, lookupWithFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	appLog.Debug("effective config", redactedKVs(cfg)...)

	sum, err := app.Run(ctx,
		app.WithConfig(cfg),
		app.WithBanner(os.Stdout),
	)
	if err != nil {
		return err
	}

	appLog.Info("sync complete",
		"interval", sum.Interval.String(),
		"fetched", sum.Fetched,
		"new", sum.Added,
		"registry_entries", sum.RegistryEntries,
		"output", sum.Output.Path,
	)
	return nil
}

// lookupWithFlags lets --registry and --output win over the environment.
func lookupWithFlags(cmd *cli.Command) func(string) (string, bool) {
	return func(key string) (string, bool) {
		switch key {
		case config.EnvRegistryPath:
			if v := cmd.String("registry"); v != "" {
				return v, true
			}
		case config.EnvOutputPath:
			if v := cmd.String("output"); v != "" {
				return v, true
			}
		}
		return os.LookupEnv(key)
	}
}

func redactedKVs(cfg *config.Config) []any {
	r := cfg.Redacted()
	kv := make([]any, 0, len(r)*2)
	for k, v := range r {
		kv = append(kv, k, v)
	}
	return kv
}

func configInit(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		path = cmd.String("config")
	}
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.AgendaInterval = "period"
	cfg.Classeviva.Username = "${" + config.EnvUsername + "}"
	cfg.Classeviva.Password = "${" + config.EnvPassword + "}"
	if err := cfg.Save(path); err != nil {
		return err
	}
	appLog.Info("config written", "path", path)
	return nil
}

func inspect(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		path = cmd.String("output")
	}
	if path == "" {
		path = "agenda.ics"
	}

	events, err := ics.ParseFile(path)
	if err != nil {
		return err
	}

	for _, ev := range events {
		start := ev.Start.Format("2006-01-02 15:04")
		if ev.AllDay {
			start = ev.Start.Format("2006-01-02") + " (all day)"
		}
		fmt.Printf("%s  %-5s  %s  [%s]\n", start, ev.Duration().Round(time.Minute), ev.Summary, ev.Organizer)
	}
	fmt.Printf("%d events in %s\n", len(events), path)
	return nil
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	cmd := &cli.Command{
		Name:    "gv2cal",
		Usage:   "Export the Classeviva agenda to an iCalendar file",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "gv2cal.yaml",
				Sources: cli.EnvVars("GV2CAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the environment is read",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "registry",
				Usage: "First-seen registry JSON file (overrides " + config.EnvRegistryPath + ")",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Calendar output file (overrides " + config.EnvOutputPath + ")",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage the config file",
				Commands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write a default config file",
						ArgsUsage: "[path]",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
						},
						Action: configInit,
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "List the events of a generated calendar file",
				ArgsUsage: "[path]",
				Action:    inspect,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		appLog.Error("gv2cal failed", err)
		os.Exit(1)
	}
}
