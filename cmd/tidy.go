/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"feedview/config"
	"feedview/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing feed items that are old.

		Removes items published before the retention window that no refresh
		has seen since. This keeps the database size down and the feed fresh.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.DurationFlag{
				Name:    "retention",
				Value:   config.DefaultRetention,
				Usage:   "How long items are kept",
				EnvVars: []string{"FEEDVIEW_RETENTION"},
			},
		},
		Action: func(ctx *cli.Context) error {
			retention := ctx.Duration("retention")
			if retention <= 0 {
				return fmt.Errorf("retention must be positive, got %s", retention)
			}
			_, err := db.Tidy(ctx.Context, ctx.String("database"), retention)
			return err
		},
	}
}
