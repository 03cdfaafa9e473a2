/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"feedview/config"
	"feedview/db"
	"feedview/feeds"
	"feedview/imagecache"
	"feedview/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "feeds.toml",
		Usage:   "TOML file listing the feed sources",
		EnvVars: []string{"FEEDVIEW_CONFIG"},
	}
}

func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "source-timeout",
			Value:   30 * time.Second,
			Usage:   "Timeout for a single source request",
			EnvVars: []string{"FEEDVIEW_SOURCE_TIMEOUT"},
		},
		&cli.Uint64Flag{
			Name:    "source-retries",
			Value:   3,
			Usage:   "Retries per source before it is counted as failed",
			EnvVars: []string{"FEEDVIEW_SOURCE_RETRIES"},
		},
		&cli.IntFlag{
			Name:    "source-concurrency",
			Value:   4,
			Usage:   "Sources fetched at once",
			EnvVars: []string{"FEEDVIEW_SOURCE_CONCURRENCY"},
		},
	}
}

func newAggregator(ctx *cli.Context, cfg *config.TomlConfig) *feeds.Aggregator {
	return feeds.NewAggregator(feeds.AggregatorConfig{
		Sources:           cfg.ModelSources(),
		ExcludeCategories: cfg.ExcludeCategories,
		Concurrency:       ctx.Int("source-concurrency"),
		Fetch: feeds.FetchConfig{
			Client:     &http.Client{Timeout: ctx.Duration("source-timeout")},
			MaxRetries: ctx.Uint64("source-retries"),
		},
	})
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated feed",
		Description: `Starts the feedview HTTP server and the source refresh loop.

Fetches the configured sources on an interval, stores the items in the SQLite
database and serves them as JSON under /feed. Item images are optionally
mirrored into the uploads directory and served under /static/uploads, and
remote images can be fetched through /image-proxy.`,
		Flags: append([]cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Value:   "",
				Usage:   "Host to listen on, empty for all interfaces",
				EnvVars: []string{"FEEDVIEW_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port to listen on",
				EnvVars: []string{"FEEDVIEW_PORT"},
			},
			&cli.StringFlag{
				Name:    "uploads-dir",
				Value:   "uploads",
				Usage:   "Directory mirrored images are written to and served from",
				EnvVars: []string{"FEEDVIEW_UPLOADS_DIR"},
			},
			&cli.StringFlag{
				Name:    "personal-feed-dir",
				Usage:   "Directory served under /personal_feed",
				EnvVars: []string{"FEEDVIEW_PERSONAL_FEED_DIR"},
			},
			&cli.StringFlag{
				Name:    "image-cache",
				Value:   "proxy-cache.db",
				Usage:   "SQLite file caching proxied images, empty to disable",
				EnvVars: []string{"FEEDVIEW_IMAGE_CACHE"},
			},
			&cli.IntFlag{
				Name:    "image-cache-memory",
				Value:   256,
				Usage:   "Proxied images kept in memory, 0 to disable",
				EnvVars: []string{"FEEDVIEW_IMAGE_CACHE_MEMORY"},
			},
			&cli.BoolFlag{
				Name:    "allow-private-hosts",
				Usage:   "Let the image proxy reach loopback and private addresses",
				EnvVars: []string{"FEEDVIEW_ALLOW_PRIVATE_HOSTS"},
			},
			&cli.DurationFlag{
				Name:    "cache-expiration",
				Value:   time.Minute,
				Usage:   "How long /feed responses are cached, negative to disable",
				EnvVars: []string{"FEEDVIEW_CACHE_EXPIRATION"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Value:   "*",
				Usage:   "Origins allowed by CORS, comma separated",
				EnvVars: []string{"FEEDVIEW_ALLOW_ORIGINS"},
			},
			&cli.IntFlag{
				Name:    "feed-limit",
				Value:   500,
				Usage:   "Items returned by /feed when no limit is given",
				EnvVars: []string{"FEEDVIEW_FEED_LIMIT"},
			},
		}, fetchFlags()...),
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			interval, err := cfg.RefreshEvery()
			if err != nil {
				return err
			}
			retention, err := cfg.RetentionPeriod()
			if err != nil {
				return err
			}

			log.Infof("Running database migrations on %s", database)
			if err := db.Migrate(database); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			writer, err := db.NewWriter(database, retention)
			if err != nil {
				return err
			}
			defer writer.Close()

			reader, err := db.NewReader(database)
			if err != nil {
				return err
			}
			defer reader.Close()

			proxyCache, closeProxyCache := imagecache.OpenAccessor(ctx.Context, ctx.String("image-cache"), ctx.Int("image-cache-memory"))
			defer closeProxyCache()

			// Cancelled on interrupt by Execute
			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			var mirror *feeds.Mirror
			if cfg.Mirror.Enabled {
				mirror, err = feeds.NewMirror(runCtx, feeds.MirrorConfig{
					Dir:     ctx.String("uploads-dir"),
					Workers: cfg.Mirror.Workers,
				})
				if err != nil {
					return err
				}
				mirror.Start()
			}

			broadcaster := server.NewBroadcaster()
			writer.OnStored(broadcaster.BroadcastRefresh)

			app := server.Server(&server.ServerConfig{
				Reader:          reader,
				Broadcaster:     broadcaster,
				UploadsDir:      ctx.String("uploads-dir"),
				PersonalFeedDir: ctx.String("personal-feed-dir"),
				Proxy: server.ProxyConfig{
					AllowPrivateHosts: ctx.Bool("allow-private-hosts"),
					Cache:             proxyCache,
				},
				FeedLimit:       ctx.Int("feed-limit"),
				CacheExpiration: ctx.Duration("cache-expiration"),
				AllowOrigins:    ctx.String("allow-origins"),
			})

			events := make(chan interface{})
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var wg sync.WaitGroup
			wg.Add(2)

			go func() {
				defer wg.Done()
				log.WithFields(log.Fields{
					"sources":  len(cfg.Sources),
					"interval": interval,
				}).Info("Refreshing sources")
				feeds.Subscribe(runCtx, newAggregator(ctx, cfg), mirror, events, ticker)
			}()

			go func() {
				defer wg.Done()
				writer.Subscribe(runCtx, events)
			}()

			serverErr := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf("%s:%d", ctx.String("hostname"), ctx.Int("port"))
				log.Infof("Starting server on %s", addr)
				serverErr <- app.Listen(addr)
			}()

			select {
			case <-runCtx.Done():
				log.Info("Gracefully shutting down...")
			case err = <-serverErr:
				log.WithError(err).Error("Server stopped")
			}

			cancel()
			broadcaster.Shutdown()
			if shutdownErr := app.ShutdownWithTimeout(60 * time.Second); shutdownErr != nil {
				log.WithError(shutdownErr).Warn("Error shutting down server")
			}
			wg.Wait()
			if mirror != nil {
				mirror.Stop()
			}

			log.Info("Done!")
			return err
		},
	}
}

