package database

import (
	"context"
	"log"
	"time"

	"controlplane-backend/models"
)

// StartSweeper starts a goroutine that periodically garbage-collects admission
// rows in Postgres: idempotency records past their expiry (stale pendings from
// crashed executors included) and rate-limit counters whose window reset longer
// than counterRetention ago. Correctness never depends on the sweeper -- expired
// rows are already treated as absent by the store -- it only keeps the tables
// from growing without bound. Stop it by cancelling the context.
//
// The Redis store does not need this; its keys expire natively.
func StartSweeper(ctx context.Context, every, counterRetention time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sweepOnce(counterRetention)
			}
		}
	}()
}

func sweepOnce(counterRetention time.Duration) {
	now := time.Now().UTC()

	res := DB.Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		log.Printf("sweep: idempotency records: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("sweep: removed %d expired idempotency records", res.RowsAffected)
	}

	res = DB.Where("reset_at <= ?", now.Add(-counterRetention)).Delete(&models.RateLimitCounter{})
	if res.Error != nil {
		log.Printf("sweep: rate limit counters: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("sweep: removed %d stale rate limit counters", res.RowsAffected)
	}
}
