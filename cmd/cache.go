package cmd

import (
	"fmt"

	"feedview/imagecache"

	"github.com/urfave/cli/v2"
)

func cacheFileFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "cache",
		Value:   "feedview-cache.db",
		Usage:   "SQLite file caching resolved images",
		EnvVars: []string{"FEEDVIEW_CACHE"},
	}
}

// withStore opens the image cache file, runs fn and closes it again
func withStore(ctx *cli.Context, fn func(*imagecache.Store) error) error {
	store, err := imagecache.Open(ctx.Context, ctx.String("cache"))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and bound the local image cache",
		Description: `The image cache is unbounded by default. Use prune to keep only the most
recently written entries or clear to empty it.`,
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Print the number of cached images and their stored size",
				Flags: []cli.Flag{cacheFileFlag()},
				Action: func(ctx *cli.Context) error {
					return withStore(ctx, func(store *imagecache.Store) error {
						stats, err := store.Stats(ctx.Context)
						if err != nil {
							return err
						}
						fmt.Fprintf(ctx.App.Writer, "%s: %d entries, %d bytes\n", store.Path(), stats.Entries, stats.Bytes)
						return nil
					})
				},
			},
			{
				Name:  "prune",
				Usage: "Keep only the most recently written entries",
				Flags: []cli.Flag{
					cacheFileFlag(),
					&cli.IntFlag{
						Name:    "max-entries",
						Value:   1000,
						Usage:   "Entries to keep",
						EnvVars: []string{"FEEDVIEW_CACHE_MAX_ENTRIES"},
					},
				},
				Action: func(ctx *cli.Context) error {
					return withStore(ctx, func(store *imagecache.Store) error {
						_, err := store.Prune(ctx.Context, ctx.Int("max-entries"))
						return err
					})
				},
			},
			{
				Name:  "clear",
				Usage: "Remove every cached image",
				Flags: []cli.Flag{cacheFileFlag()},
				Action: func(ctx *cli.Context) error {
					return withStore(ctx, func(store *imagecache.Store) error {
						return store.Clear(ctx.Context)
					})
				},
			},
		},
	}
}
