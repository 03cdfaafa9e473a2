package feeds

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"feedview/models"
)

// Subscribe refreshes immediately and then on every tick, sending a
// models.SnapshotEvent per refresh. Item images are queued on mirror when it is set.
func Subscribe(ctx context.Context, aggregator *Aggregator, mirror *Mirror, events chan<- interface{}, ticker *time.Ticker) {
	for {
		items, evt := aggregator.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}

		if mirror != nil {
			queued := 0
			for _, item := range items {
				if item.HasImage() && mirror.Enqueue(item.ImageUrl) {
					queued++
				}
			}
			log.WithField("queued", queued).Debug("Queued images for mirroring")
		}

		select {
		case events <- models.SnapshotEvent{Items: items, Refresh: evt}:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			log.Info("Stopping source refresh")
			return
		case <-ticker.C:
		}
	}
}
