package feeds

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"feedview/models"
)

const defaultUserAgent = "feedview/1.0"

// FetchConfig controls how sources are downloaded
type FetchConfig struct {
	Client     *http.Client
	UserAgent  string
	MaxRetries uint64
	// InitialInterval is the first retry delay, grown exponentially after that
	InitialInterval time.Duration
}

// statusError is an unexpected HTTP status from a source
type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.status, e.url)
}

// fetchSource downloads and parses one source, retrying transient failures
func fetchSource(ctx context.Context, cfg FetchConfig, source models.Source) (*gofeed.Feed, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = 2 * time.Minute

	var policy backoff.BackOff = b
	policy = backoff.WithMaxRetries(policy, cfg.MaxRetries)
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*gofeed.Feed, error) {
		attempt++
		return fetchOnce(ctx, cfg, source)
	}, policy, func(err error, next time.Duration) {
		log.WithFields(log.Fields{
			"source":  source.Url,
			"attempt": attempt,
			"retryIn": next,
			"error":   err,
		}).Warn("Fetching source failed, retrying")
	})
}

func fetchOnce(ctx context.Context, cfg FetchConfig, source models.Source) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.Url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err := &statusError{url: source.Url, status: resp.StatusCode}
		// client errors will not go away by asking again
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse feed %s: %w", source.Url, err))
	}
	return feed, nil
}
