package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedview/metrics"
)

const (
	// MirrorPath is where the server exposes mirrored copies of remote images.
	MirrorPath = "/static/uploads/"
	// ProxyPath is the same-origin endpoint that fetches a remote image for us.
	ProxyPath = "/image-proxy"

	// DefaultMaxImageBytes matches the cap the server applies to proxied and mirrored images.
	DefaultMaxImageBytes = 10 << 20
)

// Strategy selects the cache key form and the ordered list of fetch sources.
type Strategy int

const (
	// ProxyOnly keys entries by the remote URL and fetches through the proxy.
	ProxyOnly Strategy = iota
	// MirrorThenProxy keys entries by the mirror path and tries the mirror
	// before falling back to the proxy.
	MirrorThenProxy
)

func (s Strategy) String() string {
	switch s {
	case ProxyOnly:
		return "proxy"
	case MirrorThenProxy:
		return "mirror"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses "proxy" or "mirror".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "proxy", "":
		return ProxyOnly, nil
	case "mirror":
		return MirrorThenProxy, nil
	default:
		return 0, fmt.Errorf("unknown resolution strategy %q (want proxy or mirror)", s)
	}
}

// Reference identifies a remote image to resolve.
type Reference struct {
	URL string
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// BaseURL is the origin serving MirrorPath and ProxyPath.
	BaseURL  string
	Strategy Strategy
	// Client is used for mirror and proxy fetches. Defaults to a client
	// without a timeout.
	Client *http.Client
	// Latency, when set, receives per-tier timings.
	Latency *metrics.LatencyTracker
	// MaxBytes caps a fetched image. Defaults to DefaultMaxImageBytes.
	MaxBytes int64
}

// Resolver turns image references into payloads, consulting the cache before
// the network and writing fetched images back to it.
type Resolver struct {
	cache    Accessor
	base     *url.URL
	strategy Strategy
	client   *http.Client
	latency  *metrics.LatencyTracker
	maxBytes int64

	pending sync.WaitGroup
}

type source struct {
	name string
	url  string
}

// NewResolver creates a resolver reading from and writing to cache.
func NewResolver(cache Accessor, cfg ResolverConfig) (*Resolver, error) {
	if cache == nil {
		cache = Disabled{}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	return &Resolver{
		cache:    cache,
		base:     base,
		strategy: cfg.Strategy,
		client:   client,
		latency:  cfg.Latency,
		maxBytes: maxBytes,
	}, nil
}

// MirrorFilename returns the file name a mirrored copy of rawURL is stored
// under: the last segment of its path. It returns "" when there is none.
func MirrorFilename(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// Key returns the cache key for ref under the resolver's strategy. Without a
// usable file name the mirror strategy keys by the remote URL.
func (r *Resolver) Key(ref Reference) string {
	if r.strategy == MirrorThenProxy {
		if name := MirrorFilename(ref.URL); name != "" {
			return MirrorPath + name
		}
	}
	return ref.URL
}

func (r *Resolver) sources(ref Reference) []source {
	var sources []source

	if r.strategy == MirrorThenProxy {
		if name := MirrorFilename(ref.URL); name != "" {
			mirror := r.base.JoinPath(MirrorPath, name)
			sources = append(sources, source{name: "mirror", url: mirror.String()})
		}
	}

	proxy := r.base.JoinPath(ProxyPath)
	proxy.RawQuery = url.Values{"url": {ref.URL}}.Encode()
	sources = append(sources, source{name: "proxy", url: proxy.String()})

	return sources
}

// Resolve returns the payload for ref. A cached entry is returned without any
// network I/O. On a miss each source is tried in order; the first success is
// written back to the cache in the background and returned. When every source
// fails the error wraps ErrImageUnavailable and nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (Payload, error) {
	if strings.TrimSpace(ref.URL) == "" {
		return "", fmt.Errorf("%w: empty image reference", ErrImageUnavailable)
	}

	start := time.Now()
	key := r.Key(ref)

	payload, ok, err := r.cache.Get(ctx, key)
	r.latency.Since("cache.get", start)
	switch {
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"key":   key,
			"error": err,
		}).Warn("Image cache read failed, fetching instead")
	case ok:
		cacheLookups.WithLabelValues("hit").Inc()
		resolveDuration.WithLabelValues("cache").Observe(time.Since(start).Seconds())
		return payload, nil
	default:
		cacheLookups.WithLabelValues("miss").Inc()
		log.WithFields(log.Fields{
			"key": key,
		}).Debug("Image cache miss")
	}

	var failures []error
	for _, src := range r.sources(ref) {
		fetchStart := time.Now()
		payload, err := r.fetch(ctx, src)
		r.latency.Since("fetch."+src.name, fetchStart)
		if err != nil {
			imageFetches.WithLabelValues(src.name, "error").Inc()
			log.WithFields(log.Fields{
				"source": src.name,
				"url":    src.url,
				"error":  err,
			}).Debug("Image source unavailable")
			failures = append(failures, err)
			continue
		}

		imageFetches.WithLabelValues(src.name, "ok").Inc()
		resolveDuration.WithLabelValues(src.name).Observe(time.Since(start).Seconds())
		r.writeBack(ctx, key, payload)
		return payload, nil
	}

	resolveDuration.WithLabelValues("none").Observe(time.Since(start).Seconds())
	return "", fmt.Errorf("%w: %s: %w", ErrImageUnavailable, ref.URL, errors.Join(failures...))
}

func (r *Resolver) fetch(ctx context.Context, src source) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, src.name, err)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, src.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: %s: status %d", ErrFetchFailed, src.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %w", ErrFetchFailed, src.name, err)
	}
	if int64(len(body)) > r.maxBytes {
		return "", fmt.Errorf("%w: %s: image larger than %d bytes", ErrFetchFailed, src.name, r.maxBytes)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: %s: empty body", ErrFetchFailed, src.name)
	}

	payload := EncodePayload(resp.Header.Get("Content-Type"), body)
	if !strings.HasPrefix(payload.ContentType(), "image/") {
		return "", fmt.Errorf("%w: %s: not an image (%s)", ErrFetchFailed, src.name, payload.ContentType())
	}
	return payload, nil
}

// writeBack stores payload without blocking the caller. Failures are logged
// and counted, never returned.
func (r *Resolver) writeBack(ctx context.Context, key string, payload Payload) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		start := time.Now()
		err := r.cache.Put(context.WithoutCancel(ctx), key, payload)
		r.latency.Since("cache.put", start)
		if err != nil {
			cacheWrites.WithLabelValues("error").Inc()
			log.WithFields(log.Fields{
				"key":   key,
				"error": err,
			}).Warn("Failed to write image to cache")
			return
		}
		cacheWrites.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until every write-back started so far has finished.
func (r *Resolver) Wait() {
	r.pending.Wait()
}
