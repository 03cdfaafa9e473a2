package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_source_fetches_total",
		Help: "Source fetch attempts by outcome",
	}, []string{"outcome"})

	itemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_items_skipped_total",
		Help: "Items dropped during aggregation by reason",
	}, []string{"reason"})

	aggregatedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedview_aggregated_items",
		Help: "Items produced by the most recent refresh",
	})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedview_refresh_duration_seconds",
		Help:    "Duration of a full refresh over all sources",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	mirrorDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedview_mirror_downloads_total",
		Help: "Image mirror downloads by outcome",
	}, []string{"outcome"})

	mirrorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedview_mirror_queue_depth",
		Help: "Images waiting to be mirrored",
	})
)
