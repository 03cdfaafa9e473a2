/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"feedview/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func databaseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "feed.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"FEEDVIEW_DATABASE"},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. Will create the database if it does not exist.`,
		Flags:       []cli.Flag{databaseFlag()},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			if err := db.Migrate(database); err != nil {
				return err
			}
			return logVersion(database)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags:       []cli.Flag{databaseFlag()},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			if err := db.Rollback(database); err != nil {
				return err
			}
			return logVersion(database)
		},
	}
}

func logVersion(database string) error {
	version, err := db.Version(database)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"database": database,
		"version":  version,
	}).Info("Database schema version")
	return nil
}
