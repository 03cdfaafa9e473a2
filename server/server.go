package server

import (
	"bufio"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"feedview/db"
	"feedview/imagecache"
	"feedview/models"
	"feedview/query"
)

//go:embed dist/*
var dist embed.FS

const (
	defaultFeedLimit = 500
	maxFeedLimit     = 1000
)

type ServerConfig struct {
	// The reader to use for reading feed items
	Reader *db.Reader

	// Broadcast refresh notifications to SSE clients, may be nil
	Broadcaster *Broadcaster

	// Directory served under /static/uploads, usually the mirror directory
	UploadsDir string

	// Directory served under /personal_feed, empty to disable
	PersonalFeedDir string

	// Image proxy behaviour
	Proxy ProxyConfig

	// Items returned by /feed when no limit is given
	FeedLimit int

	// How long /feed responses are cached, negative disables caching
	CacheExpiration time.Duration

	// Origins allowed by CORS, comma separated
	AllowOrigins string
}

// Returns a fiber.App instance to be used as an HTTP server for the feed viewer
func Server(config *ServerConfig) *fiber.App {
	if config.FeedLimit <= 0 {
		config.FeedLimit = defaultFeedLimit
	}
	if config.CacheExpiration == 0 {
		config.CacheExpiration = time.Minute
	}
	if config.AllowOrigins == "" {
		config.AllowOrigins = "*"
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.AllowOrigins,
		AllowHeaders: "Cache-Control",
	}))

	if config.CacheExpiration > 0 {
		app.Use(cache.New(cache.Config{
			Next: func(c *fiber.Ctx) bool {
				if c.Method() != fiber.MethodGet {
					return true
				}
				if strings.HasSuffix(c.Path(), "/sse") {
					return true
				}
				// Only cache feed listings
				return c.Path() != "/feed" && c.Path() != "/feed/channels"
			},
			Expiration: config.CacheExpiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				// Include the query parameters in the cache key
				return c.Request().URI().String()
			},
		}))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/feed", func(c *fiber.Ctx) error {
		limit, offset, err := pageParams(c, config.FeedLimit)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}

		builder := query.NewItemQueryBuilder(&query.ChannelFilter{Channel: c.Query("channel")})
		if category := c.Query("category"); category != "" {
			builder.AddFilter(&query.CategoryFilter{Category: category})
		}
		if personal := c.Query("personal"); personal != "" {
			want, err := strconv.ParseBool(personal)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).SendString("invalid personal")
			}
			builder.AddFilter(&query.PersonalFilter{Personal: want})
		}

		items, err := config.Reader.GetItems(c.UserContext(), builder, limit, offset)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting feed items")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting feed")
		}

		return c.JSON(items)
	})

	app.Get("/feed/channels", func(c *fiber.Ctx) error {
		channels, err := config.Reader.GetChannels(c.UserContext())
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting channels")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting channels")
		}
		return c.JSON(channels)
	})

	app.Get("/feed/status", func(c *fiber.Ctx) error {
		count, err := config.Reader.CountItems(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting status")
		}
		status := fiber.Map{"items": count}
		if evt, ok, err := config.Reader.LastRefresh(c.UserContext()); err == nil && ok {
			status["last_refresh"] = evt.Refreshed.Format(time.RFC3339)
			status["failed_sources"] = evt.Failed
		}
		return c.JSON(status)
	})

	if bc := config.Broadcaster; bc != nil {
		app.Get("/feed/sse", func(c *fiber.Ctx) error {
			c.Set("Content-Type", "text/event-stream")
			c.Set("Cache-Control", "no-cache")
			c.Set("Connection", "keep-alive")
			c.Set("Transfer-Encoding", "chunked")

			// Unique client key
			key := uuid.New().String()
			refreshChannel := make(chan models.RefreshEvent, 10)
			bc.AddClient(key, refreshChannel)

			c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
				aliveChan := time.NewTicker(15 * time.Second)
				defer aliveChan.Stop()
				defer bc.RemoveClient(key)

				fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
				if err := w.Flush(); err != nil {
					log.Errorf("Failed to send init event: %v", err)
					return
				}

				for {
					select {
					case <-aliveChan.C:
						if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
							return
						}
						if err := w.Flush(); err != nil {
							log.Debugf("Failed to flush ping for client %s: %v", key, err)
							return
						}

					case evt, ok := <-refreshChannel:
						if !ok {
							return
						}
						data, err := json.Marshal(fiber.Map{
							"items":     evt.Items,
							"failed":    evt.Failed,
							"refreshed": evt.Refreshed.Format(time.RFC3339),
						})
						if err != nil {
							log.Errorf("Error marshalling refresh for client %s: %v", key, err)
							continue
						}
						if _, err := fmt.Fprintf(w, "event: refresh\ndata: %s\n\n", data); err != nil {
							return
						}
						if err := w.Flush(); err != nil {
							log.Debugf("Failed to flush refresh event for client %s: %v", key, err)
							return
						}
					}
				}
			}))

			return nil
		})
	}

	app.Get("/feed/:id", func(c *fiber.Ctx) error {
		item, err := config.Reader.GetItem(c.UserContext(), c.Params("id"))
		if errors.Is(err, db.ErrItemNotFound) {
			return c.Status(fiber.StatusNotFound).SendString("Item not found")
		}
		if err != nil {
			log.WithFields(log.Fields{
				"id":    c.Params("id"),
				"error": err,
			}).Error("Error getting feed item")
			return c.Status(fiber.StatusInternalServerError).SendString("Error getting item")
		}
		return c.JSON(item)
	})

	app.Get(imagecache.ProxyPath, newImageProxy(config.Proxy).handle)

	if config.UploadsDir != "" {
		app.Use(strings.TrimSuffix(imagecache.MirrorPath, "/"), filesystem.New(filesystem.Config{
			Root:   http.Dir(config.UploadsDir),
			Browse: false,
			MaxAge: 86400,
		}))
	}

	if config.PersonalFeedDir != "" {
		app.Use("/personal_feed", filesystem.New(filesystem.Config{
			Root:   http.Dir(config.PersonalFeedDir),
			Browse: false,
		}))
	}

	// Serve the index page
	app.Use("/", filesystem.New(filesystem.Config{
		Browse:     false,
		Index:      "index.html",
		Root:       http.FS(dist),
		PathPrefix: "/dist",
	}))

	return app
}

// pageParams reads limit and offset, defaulting limit to fallback and capping it
func pageParams(c *fiber.Ctx, fallback int) (int, int, error) {
	limit := fallback
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = parsed
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = parsed
	}
	return limit, offset, nil
}
