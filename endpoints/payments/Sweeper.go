package payments

import (
	"time"

	"github.com/rs/zerolog/log"

	"git.sr.ht/~kabue/hotspot-api/assert"
	"git.sr.ht/~kabue/hotspot-api/kernel"
	"git.sr.ht/~kabue/hotspot-api/models"
)

const sweepInterval = 30 * time.Second

// StartSweeper runs the pending-transaction TTL sweep in the background and
// returns a stop function. A push whose callback never arrived within
// PendingTTL is a failed payment as far as this service is concerned.
func StartSweeper(art *kernel.AppRuntime) func() {
	assert.NotNil(art.DatabaseClient, "database must be prepared before the sweeper starts")

	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := sweepPending(art, time.Now()); err != nil {
					log.Error().Err(err).Msg("pending transaction sweep failed")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func sweepPending(art *kernel.AppRuntime, now time.Time) (int64, error) {
	cutoff := now.Add(-art.PendingTTL)

	res := art.DatabaseClient.
		Model(&models.Transaction{}).
		Where("status = ? AND created_at < ?", models.TX_PENDING, cutoff).
		Updates(map[string]interface{}{
			"status":      models.TX_TIMEOUT,
			"result_desc": "no callback received within TTL",
		})
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		log.Info().
			Int64("count", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("marked stale pending transactions as timed out")
	}

	return res.RowsAffected, nil
}
