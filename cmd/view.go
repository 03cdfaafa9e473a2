package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"feedview/imagecache"
	"feedview/metrics"
	"feedview/models"
	"feedview/viewer"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Value:   "http://localhost:3000",
			Usage:   "Base url of the feedview server",
			EnvVars: []string{"FEEDVIEW_SERVER"},
		},
		&cli.StringFlag{
			Name:    "strategy",
			Value:   "mirror",
			Usage:   "Image resolution strategy: proxy or mirror",
			EnvVars: []string{"FEEDVIEW_STRATEGY"},
		},
		&cli.StringFlag{
			Name:    "cache",
			Value:   "feedview-cache.db",
			Usage:   "SQLite file caching resolved images, empty to disable",
			EnvVars: []string{"FEEDVIEW_CACHE"},
		},
		&cli.IntFlag{
			Name:    "cache-memory",
			Value:   0,
			Usage:   "Images kept in memory in front of the cache file, 0 to disable",
			EnvVars: []string{"FEEDVIEW_CACHE_MEMORY"},
		},
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Value:   15 * time.Second,
			Usage:   "Timeout for feed and image requests, 0 for none",
			EnvVars: []string{"FEEDVIEW_FETCH_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "timezone",
			Value:   "Local",
			Usage:   "Time zone dates are shown in",
			EnvVars: []string{"FEEDVIEW_TIMEZONE"},
		},
	}
}

// session holds what view and export share: the feed client and an image
// resolver backed by the local cache
type session struct {
	client   *viewer.Client
	resolver *imagecache.Resolver
	latency  *metrics.LatencyTracker
	location *time.Location
	close    func()
}

func openSession(ctx *cli.Context) (*session, error) {
	strategy, err := imagecache.ParseStrategy(ctx.String("strategy"))
	if err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(ctx.String("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	httpClient := &http.Client{Timeout: ctx.Duration("fetch-timeout")}
	client, err := viewer.NewClient(ctx.String("server"), httpClient)
	if err != nil {
		return nil, err
	}

	cache, closeCache := imagecache.OpenAccessor(ctx.Context, ctx.String("cache"), ctx.Int("cache-memory"))
	latency := metrics.NewLatencyTracker(0.01)
	resolver, err := imagecache.NewResolver(cache, imagecache.ResolverConfig{
		BaseURL:  client.BaseURL().String(),
		Strategy: strategy,
		Client:   httpClient,
		Latency:  latency,
	})
	if err != nil {
		closeCache()
		return nil, err
	}

	return &session{
		client:   client,
		resolver: resolver,
		latency:  latency,
		location: location,
		close: func() {
			// Pending write-backs must land before the store closes
			resolver.Wait()
			if err := closeCache(); err != nil {
				log.WithError(err).Warn("Error closing image cache")
			}
		},
	}, nil
}

func (s *session) renderer(concurrency int) *viewer.Renderer {
	base := s.client.BaseURL()
	return viewer.NewRenderer(s.resolver, viewer.RendererConfig{
		Concurrency: concurrency,
		Location:    s.location,
		CardURL: func(item models.FeedItem) string {
			return viewer.CardURL(base, item)
		},
	})
}

func viewCmd() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Show the feed as cards or a list",
		Description: `Fetches the feed from a feedview server and renders one page of it.

Thumbnails are looked up in the local image cache first. On a miss the mirror
strategy tries the server's /static/uploads copy and then /image-proxy, the
proxy strategy goes straight to /image-proxy. Fetched images are written back
to the cache so the next view renders without network requests.

The query string options of the web page are accepted with --query, e.g.
--query "view=list&buttons=true".`,
		Flags: append(clientFlags(),
			&cli.StringFlag{
				Name:  "channel",
				Value: viewer.AllChannels,
				Usage: "Only show items of this channel",
			},
			&cli.IntFlag{
				Name:  "page",
				Value: 1,
				Usage: "Page to show",
			},
			&cli.IntFlag{
				Name:    "per-page",
				Value:   12,
				Usage:   "Items per page",
				EnvVars: []string{"FEEDVIEW_PER_PAGE"},
			},
			&cli.StringFlag{
				Name:  "query",
				Usage: "Page options as a query string (view=list|cards, buttons=true)",
			},
			&cli.BoolFlag{
				Name:  "toggle",
				Usage: "Switch between the card and list layouts and print the new query string",
			},
			&cli.StringFlag{
				Name:  "html",
				Usage: "Write a standalone HTML page to this file instead of text, - for stdout",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 8,
				Usage: "Images resolved at once",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print image resolution latencies to stderr",
			},
		),
		Action: func(ctx *cli.Context) error {
			query, err := url.ParseQuery(ctx.String("query"))
			if err != nil {
				return fmt.Errorf("invalid query: %w", err)
			}
			opts := viewer.ParseOptions(query)
			if ctx.Bool("toggle") {
				opts = opts.Toggle()
				fmt.Fprintln(os.Stderr, "?"+opts.Apply(query).Encode())
			}

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			items, err := s.client.FetchFeed(ctx.Context, viewer.AllChannels)
			if err != nil {
				return err
			}

			channel := ctx.String("channel")
			page := viewer.Paginate(viewer.FilterByChannel(items, channel), ctx.Int("per-page"), ctx.Int("page"))
			cards := s.renderer(ctx.Int("concurrency")).Cards(ctx.Context, page.Items)

			if err := writePage(ctx.String("html"), cards, page, viewer.Channels(items), channel, opts); err != nil {
				return err
			}

			if ctx.Bool("stats") {
				for _, stats := range s.latency.AllStats() {
					fmt.Fprintln(os.Stderr, stats.String())
				}
			}
			return nil
		},
	}
}

func writePage(htmlPath string, cards []viewer.Card, page viewer.Page, channels []string, channel string, opts viewer.Options) error {
	if htmlPath == "" {
		return viewer.WriteText(os.Stdout, cards, page, channels, channel, opts)
	}

	var w io.Writer = os.Stdout
	if htmlPath != "-" {
		f, err := os.Create(htmlPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := viewer.WriteHTML(w, cards, page, channels, channel, opts); err != nil {
		return err
	}
	if htmlPath != "-" {
		log.WithField("path", htmlPath).Info("Wrote page")
	}
	return nil
}
