package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"feedwatch/internal/fetch"
	"feedwatch/internal/service"
)

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Fetch and parse a feed once, print its newest items",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   5,
				Usage:   "Number of items to print",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.Exit("expected exactly one feed url", 1)
			}
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			url, err := service.NormalizeURL(ctx.Args().First())
			if err != nil {
				return err
			}

			raw, err := fetch.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Fetch.MaxBodyBytes).Fetch(ctx.Context, url)
			if err != nil {
				return err
			}
			doc, err := service.NewParser().Parse(raw)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%d items)\n", doc.Title, len(doc.Items))
			for i, item := range doc.Items {
				if i >= ctx.Int("limit") {
					break
				}
				published := ""
				if item.PublishedAt != nil {
					published = item.PublishedAt.Local().Format(time.DateTime)
				}
				fmt.Printf("- %s %s\n  %s\n  id: %s\n", published, item.Title, item.Link, item.ID)
			}
			return nil
		},
	}
}
