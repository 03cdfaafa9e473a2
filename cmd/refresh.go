package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"feedview/config"
	"feedview/db"
	"feedview/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Fetch all sources once",
		Description: `Fetch the configured sources once and print the aggregated items.

Returns each item as a JSON object on a single line, newest first. Use a tool
like jq to process the output. With --store the items are also written to the
database, as a serve refresh would.

Prints all other log messages to stderr.`,
		Flags: append([]cli.Flag{
			configFlag(),
			databaseFlag(),
			&cli.BoolFlag{
				Name:  "store",
				Usage: "Write the items to the database",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Do not print the items",
			},
		}, fetchFlags()...),
		Action: func(ctx *cli.Context) error {
			// Keep stdout for the items
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			items, evt := newAggregator(ctx, cfg).Refresh(ctx.Context)
			if evt.Failed == evt.Sources {
				return fmt.Errorf("all %d sources failed", evt.Sources)
			}

			if ctx.Bool("store") {
				if err := storeSnapshot(ctx, cfg, models.SnapshotEvent{Items: items, Refresh: evt}); err != nil {
					return err
				}
			}

			if !ctx.Bool("quiet") {
				encoder := json.NewEncoder(os.Stdout)
				for _, item := range items {
					if err := encoder.Encode(item); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func storeSnapshot(ctx *cli.Context, cfg *config.TomlConfig, snapshot models.SnapshotEvent) error {
	database := ctx.String("database")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	retention, err := cfg.RetentionPeriod()
	if err != nil {
		return err
	}

	writer, err := db.NewWriter(database, retention)
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := writer.StoreItems(ctx.Context, snapshot.Items); err != nil {
		return err
	}
	return writer.RecordRefresh(ctx.Context, snapshot.Refresh)
}

