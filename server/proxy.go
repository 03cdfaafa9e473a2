package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"feedview/imagecache"
)

const (
	maxProxyURLLength  = 2048
	maxProxyImageBytes = 10 << 20
	proxyCacheFallback = "public, max-age=86400"
)

// ProxyConfig configures GET /image-proxy
type ProxyConfig struct {
	Client    *http.Client
	UserAgent string
	// AllowPrivateHosts lets the proxy reach loopback and private addresses
	AllowPrivateHosts bool
	// Cache keeps proxied images keyed by their url; nil disables it
	Cache imagecache.Accessor
}

type imageProxy struct {
	config ProxyConfig
}

func newImageProxy(config ProxyConfig) *imageProxy {
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if config.UserAgent == "" {
		config.UserAgent = "feedview/1.0"
	}
	if config.Cache == nil {
		config.Cache = imagecache.Disabled{}
	}
	return &imageProxy{config: config}
}

func (p *imageProxy) handle(c *fiber.Ctx) error {
	raw := c.Query("url")
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).SendString("URL is required")
	}
	if len(raw) > maxProxyURLLength {
		return c.Status(fiber.StatusRequestURITooLong).SendString("url too long")
	}

	target, err := url.Parse(raw)
	if err != nil || !p.allowed(target) {
		return c.Status(fiber.StatusBadRequest).SendString("invalid url")
	}

	ctx := c.UserContext()
	key := target.String()
	if payload, ok, err := p.config.Cache.Get(ctx, key); err != nil {
		log.WithFields(log.Fields{"url": key, "error": err}).Warn("Image proxy cache read failed")
	} else if ok {
		if contentType, body, err := payload.Decode(); err == nil {
			c.Set(fiber.HeaderContentType, contentType)
			c.Set(fiber.HeaderCacheControl, proxyCacheFallback)
			c.Set("X-Cache", "HIT")
			return c.Status(fiber.StatusOK).Send(body)
		}
	}

	resp, err := p.fetch(ctx, target)
	if err != nil {
		log.WithFields(log.Fields{"url": key, "error": err}).Warn("Image proxy upstream fetch failed")
		return c.Status(fiber.StatusBadGateway).SendString("upstream fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.Status(fiber.StatusBadGateway).SendString(fmt.Sprintf("Failed to fetch image from %s", key))
	}

	reader := bufio.NewReader(resp.Body)
	sniff, _ := reader.Peek(512)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		detected := http.DetectContentType(sniff)
		if !strings.HasPrefix(detected, "image/") {
			return c.Status(fiber.StatusUnsupportedMediaType).SendString("upstream did not return image content")
		}
		contentType = detected
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxProxyImageBytes+1))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).SendString("upstream read failed")
	}
	if len(body) > maxProxyImageBytes {
		return c.Status(fiber.StatusBadGateway).SendString("upstream image too large")
	}

	if len(body) > 0 {
		if err := p.config.Cache.Put(context.WithoutCancel(ctx), key, imagecache.EncodePayload(contentType, body)); err != nil {
			log.WithFields(log.Fields{"url": key, "error": err}).Warn("Image proxy cache write failed")
		}
	}

	c.Set(fiber.HeaderContentType, contentType)
	if cacheControl := resp.Header.Get("Cache-Control"); cacheControl != "" {
		c.Set(fiber.HeaderCacheControl, cacheControl)
	} else {
		c.Set(fiber.HeaderCacheControl, proxyCacheFallback)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.Set(fiber.HeaderETag, etag)
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		c.Set(fiber.HeaderLastModified, modified)
	}
	c.Set("X-Cache", "MISS")
	return c.Status(fiber.StatusOK).Send(body)
}

func (p *imageProxy) fetch(ctx context.Context, target *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.config.UserAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")
	req.Header.Set("Referer", fmt.Sprintf("%s://%s/", target.Scheme, target.Host))
	return p.config.Client.Do(req)
}

func (p *imageProxy) allowed(target *url.URL) bool {
	if target == nil {
		return false
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return false
	}
	if target.Hostname() == "" {
		return false
	}
	return p.config.AllowPrivateHosts || !isDisallowedHost(target.Hostname())
}

func isDisallowedHost(host string) bool {
	hostname := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if hostname == "" || hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
			return true
		}
	}
	return false
}
