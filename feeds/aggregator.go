// Package feeds aggregates syndicated sources into feed items and mirrors their images.
package feeds

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedview/models"
)

// AggregatorConfig holds the sources and fetch behaviour of an Aggregator
type AggregatorConfig struct {
	Sources           []models.Source
	ExcludeCategories []string
	Fetch             FetchConfig
	// Concurrency bounds how many sources are fetched at once
	Concurrency int
}

type Aggregator struct {
	config AggregatorConfig
	clock  func() time.Time
}

func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Fetch.Client == nil {
		config.Fetch.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Fetch.UserAgent == "" {
		config.Fetch.UserAgent = defaultUserAgent
	}
	if config.Fetch.InitialInterval <= 0 {
		config.Fetch.InitialInterval = 500 * time.Millisecond
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Aggregator{config: config, clock: time.Now}
}

type sourceResult struct {
	items []models.FeedItem
	err   error
}

// Refresh fetches every source and returns their items newest first.
// A failing source is logged and counted but does not fail the refresh.
func (a *Aggregator) Refresh(ctx context.Context) ([]models.FeedItem, models.RefreshEvent) {
	start := a.clock()
	results := make([]sourceResult, len(a.config.Sources))

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup
	for i, source := range a.config.Sources {
		wg.Add(1)
		go func(i int, source models.Source) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = sourceResult{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			results[i] = a.collect(ctx, source)
		}(i, source)
	}
	wg.Wait()

	var items []models.FeedItem
	failed := 0
	seen := make(map[string]struct{})
	for i, result := range results {
		if result.err != nil {
			failed++
			sourceFetches.WithLabelValues("failed").Inc()
			log.WithFields(log.Fields{
				"source": a.config.Sources[i].Url,
				"error":  result.err,
			}).Error("Error fetching source")
			continue
		}
		sourceFetches.WithLabelValues("ok").Inc()
		for _, item := range result.items {
			if _, dup := seen[item.Id]; dup {
				itemsSkipped.WithLabelValues("duplicate").Inc()
				continue
			}
			seen[item.Id] = struct{}{}
			items = append(items, item)
		}
	}

	SortNewestFirst(items)

	evt := models.RefreshEvent{
		Items:     len(items),
		Sources:   len(a.config.Sources),
		Failed:    failed,
		Duration:  a.clock().Sub(start),
		Refreshed: start,
	}
	aggregatedItems.Set(float64(len(items)))
	refreshDuration.Observe(evt.Duration.Seconds())

	log.WithFields(log.Fields{
		"items":    evt.Items,
		"sources":  evt.Sources,
		"failed":   evt.Failed,
		"duration": evt.Duration,
	}).Info("Refreshed sources")

	return items, evt
}

func (a *Aggregator) collect(ctx context.Context, source models.Source) sourceResult {
	log.WithField("source", source.Url).Info("Fetching source")
	feed, err := fetchSource(ctx, a.config.Fetch, source)
	if err != nil {
		return sourceResult{err: err}
	}

	channel := strings.TrimSpace(feed.Title)
	items := make([]models.FeedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item, ok := convertItem(entry, channel, source, a.config.ExcludeCategories)
		if !ok {
			itemsSkipped.WithLabelValues("excluded").Inc()
			if entry != nil {
				log.WithFields(log.Fields{
					"source": source.Url,
					"title":  entry.Title,
				}).Debug("Skipping item")
			}
			continue
		}
		items = append(items, item)
	}
	return sourceResult{items: items}
}

// SortNewestFirst orders items by publication time, keeping source order among equal times
func SortNewestFirst(items []models.FeedItem) {
	slices.SortStableFunc(items, func(a, b models.FeedItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
}
