package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/thomas-villani/nb-sub001/internal"
	pkgconfig "github.com/thomas-villani/nb-sub001/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.Notes.Root = root
	}
	return cfg, nil
}

func newLogger(cfg *internal.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// options builds the application options shared by every command.
func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogger(newLogger(cfg)),
	}, nil
}

func openApp(cmd *cli.Command) (*internal.App, error) {
	opts, err := options(cmd)
	if err != nil {
		return nil, err
	}
	return internal.Open(opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithWatch(!cmd.Bool("no-watch")))
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:  "nb",
		Usage: "Index Markdown notes, track their todos and search them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "nb.yaml",
				Value:       "nb.yaml",
				Sources:     cli.EnvVars("NB_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "Notes root directory (overrides notes.root)",
				Sources: cli.EnvVars("NB_NOTES_ROOT"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Commands: []*cli.Command{
			indexCommand(),
			searchCommand(),
			todosCommand(),
			toggleCommand(),
			backlinksCommand(),
			historyCommand(),
			{
				Name:   "serve",
				Usage:  "Run the REST API with live reindexing",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-watch", Usage: "Disable the filesystem watcher"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
