package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_imagecache_lookups_total",
		Help: "Cache lookups made by the image resolver, by result (hit, miss, error)",
	}, []string{"result"})

	imageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_image_fetches_total",
		Help: "Network fetches made by the image resolver, by source and outcome",
	}, []string{"source", "outcome"})

	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_imagecache_writes_total",
		Help: "Cache write-backs after a fetch, by outcome",
	}, []string{"outcome"})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedview_image_resolve_duration_seconds",
		Help:    "Time to resolve an image, by the tier that produced it",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"source"})
)
