// Package retention prunes old conversation turns from the hot store.
// Turns past the retention window are optionally archived to a durable
// location first; if archiving fails the turns are kept, never lost.
package retention

import (
	"context"
	"time"

	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBatch bounds how many expired turns one cycle archives.
const maxBatch = 5000

// Archiver writes expired turns to durable storage before they are
// purged from the hot store.
type Archiver interface {
	Kind() string
	ArchiveTurns(ctx context.Context, turns []models.ConversationTurn) (string, error)
}

// Janitor periodically purges turns older than the retention window.
type Janitor struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
	archiver Archiver
	now      func() time.Time
}

// NewJanitor creates a janitor that sweeps on the given interval,
// removing turns older than maxAge. archiver may be nil, in which case
// expired turns are purged without archiving.
func NewJanitor(s store.Store, interval, maxAge time.Duration, archiver Archiver) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		store:    s,
		interval: interval,
		maxAge:   maxAge,
		archiver: archiver,
		now:      time.Now,
	}
}

// Start runs the janitor until ctx is canceled. It sweeps once
// immediately, then on every tick.
func (j *Janitor) Start(ctx context.Context) {
	evt := log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge)
	if j.archiver != nil {
		evt = evt.Str("archiver", j.archiver.Kind())
	}
	evt.Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep. It returns how many turns were purged.
func (j *Janitor) RunCycle(ctx context.Context) int {
	cutoff := j.now().Add(-j.maxAge)

	if j.archiver != nil {
		expired, err := j.store.ListExpiredTurns(ctx, cutoff, maxBatch)
		if err != nil {
			log.Warn().Err(err).Msg("retention sweep: listing expired turns failed")
			return 0
		}
		if len(expired) == 0 {
			return 0
		}
		uri, err := j.archiver.ArchiveTurns(ctx, expired)
		if err != nil {
			// Keep the data when we cannot archive it.
			log.Warn().Err(err).Msg("retention sweep: archive failed, skipping purge")
			return 0
		}
		log.Debug().Str("uri", uri).Int("count", len(expired)).Msg("expired turns archived")
	}

	purged, err := j.store.DeleteTurnsBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("retention sweep: purge failed")
		return 0
	}
	if purged > 0 {
		log.Info().Int("purged", purged).Time("cutoff", cutoff).Msg("retention cycle complete")
	}
	return purged
}
