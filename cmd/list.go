package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"feedwatch/internal/model"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print the stored subscriptions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "destination",
				Aliases: []string{"d"},
				Usage:   "Only show subscriptions of this destination",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := st.Load(ctx.Context)
			if err != nil {
				return err
			}

			only := ctx.String("destination")
			count := 0
			for _, e := range snap.Entries(cfg.Engine.DefaultInterval) {
				if only != "" && e.Destination != only {
					continue
				}
				printEntry(e)
				count++
			}
			fmt.Printf("%d subscription(s)\n", count)
			return nil
		},
	}
}

func printEntry(e model.FeedEntry) {
	status := "active"
	if !e.Active {
		status = "paused"
	}
	checked := "never"
	if e.LastChecked != nil {
		checked = e.LastChecked.Local().Format(time.DateTime)
	}
	fmt.Printf("[%s] %s\n  %s\n  every %s, %s, last checked %s\n", e.Destination, e.Title, e.URL, e.Interval, status, checked)
}
