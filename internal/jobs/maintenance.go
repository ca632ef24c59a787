// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"time"

	"github.com/nholm/ballast/internal/config"
)

// Built-in job names.
const (
	JobItemsPurge  = "items.purge"
	JobLedgerPrune = "ledger.prune"
)

// Purger deletes items that fell out of the retention window.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// RegisterStandard wires the built-in maintenance jobs from config.
// The purge job needs a purger, the prune job needs a ledger; either
// is skipped when its dependency or schedule is missing.
func (s *Scheduler) RegisterStandard(cfg config.JobsConfig, purger Purger) error {
	if purger != nil && cfg.PurgeSchedule != "" {
		if err := s.Register(JobItemsPurge, cfg.PurgeSchedule, s.purgeJob(purger, cfg.ItemRetention)); err != nil {
			return err
		}
	}
	if s.led != nil && cfg.PruneSchedule != "" {
		if err := s.Register(JobLedgerPrune, cfg.PruneSchedule, s.pruneJob(cfg.RetainRuns)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) purgeJob(purger Purger, retention time.Duration) Func {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		deleted, err := purger.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		if deleted > 0 {
			s.log.Info().
				Int64("deleted", deleted).
				Str("job", JobItemsPurge).
				Str("event", "job.purged").
				Msg("purged expired items")
		}
		return nil
	}
}

func (s *Scheduler) pruneJob(retain int) Func {
	return func(ctx context.Context) error {
		_, err := s.led.Prune(ctx, retain)
		return err
	}
}
