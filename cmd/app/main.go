package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/kenaz-import/internal"
	pkgconfig "github.com/starford/kenaz-import/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithKind(cmd.String("kind")),
		internal.WithRedirect(cmd.Bool("do-redirect")),
	}

	if err := internal.RunImport(ctx, opts...); err != nil {
		return fmt.Errorf("import error: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Serve(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.ServeMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "kenaz-import",
		Usage: "Migrate rows of an external database into the content store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "Import every row of one content kind",
				Action: runImport,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "kind",
						Aliases:  []string{"k"},
						Usage:    "Content kind to import",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "do-redirect",
						Usage: "Create a 301 rule from every legacy URL",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the query API, media files and legacy URL redirects",
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
