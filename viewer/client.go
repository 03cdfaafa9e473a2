// Package viewer fetches the aggregated feed and renders it as cards or a list,
// resolving thumbnails through the image cache.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"feedview/models"
)

// ErrNotFound is returned by FetchItem for an unknown id
var ErrNotFound = errors.New("feed item not found")

// Client reads the feed endpoints of a feedview server
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}, nil
}

// BaseURL returns the server url the client talks to
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// FetchFeed returns the items of GET /feed, optionally restricted to a channel
func (c *Client) FetchFeed(ctx context.Context, channel string) ([]models.FeedItem, error) {
	target := c.base.JoinPath("/feed")
	if channel != "" && channel != AllChannels {
		target.RawQuery = url.Values{"channel": {channel}}.Encode()
	}

	var items []models.FeedItem
	if err := c.getJSON(ctx, target, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// FetchItem returns a single item by id
func (c *Client) FetchItem(ctx context.Context, id string) (models.FeedItem, error) {
	var item models.FeedItem
	err := c.getJSON(ctx, c.base.JoinPath("/feed", id), &item)
	return item, err
}

func (c *Client) getJSON(ctx context.Context, target *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, target, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s: %w", target, err)
	}
	return nil
}
