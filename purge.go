package main

import (
	"context"
	"log"
	"time"

	"github.com/0x9900/FT8Commander/spotdb"
)

const purgeInterval = time.Minute

// runPurge expires unworked sightings older than the retry window, so a
// station that went unanswered comes back as a fresh candidate later.
func runPurge(ctx context.Context, store *spotdb.Store, window time.Duration) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeOlder(window)
			if err != nil {
				log.Printf("Purge: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Purge: %d records", n)
				metricPurged.Add(float64(n))
			}
		}
	}
}
