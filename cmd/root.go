package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedwatch/config"
	"feedwatch/internal/service"
	"feedwatch/internal/store"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedwatch",
		Usage: "Watch RSS/Atom feeds and deliver new items to destinations",
		Description: `feedwatch keeps a registry of feed subscriptions, each bound to a
		destination. Every subscription is polled on its own interval and items
		published since the last check are delivered to the destination, oldest
		first.

		Flags can generally be set via environment variables, e.g.:

		--config => FEEDWATCH_CONFIG=config.yaml
		--port => PORT=8080
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "YAML config file location",
				EnvVars: []string{"FEEDWATCH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			listCmd(),
			checkCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type snapshotStore interface {
	service.SnapshotStore
	Close() error
}

// openStore 按配置选择快照存储; readOnly 用于只展示数据的命令
func openStore(cfg *config.Config, readOnly bool) (snapshotStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		st, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorageJSON:
		if readOnly {
			return store.NewReadOnlyJSONStore(cfg.Storage.Path), nil
		}
		return store.NewJSONStore(cfg.Storage.Path), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
