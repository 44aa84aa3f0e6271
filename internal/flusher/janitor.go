package flusher

import (
	"context"
	"time"

	"github.com/developingchet/http-sink/internal/metrics"
	"github.com/developingchet/http-sink/internal/storage"
)

// runJanitor periodically publishes the spool depth and, for on-disk
// spools, the BboltDBSizeBytes gauge. It returns when ctx is cancelled.
func runJanitor(ctx context.Context, spool storage.Spool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SpoolRecords.Set(float64(spool.Len()))
			if size, ok := dbSize(spool); ok {
				metrics.BboltDBSizeBytes.Set(float64(size))
			}
		}
	}
}
