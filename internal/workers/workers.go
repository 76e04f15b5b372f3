// Package workers runs GRIP's periodic background jobs.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"grip/internal/engine/githubsync"
)

type MemberSyncer interface {
	SyncAll(ctx context.Context) ([]*githubsync.Result, error)
}

type KeyExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type SessionPurger interface {
	PurgeSessions(ctx context.Context, now time.Time) (int64, error)
}

// Job is a named unit of work run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// SyncMembers reconciles every sync-enabled organization with its GitHub org.
func SyncMembers(s MemberSyncer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		results, err := s.SyncAll(ctx)
		if err != nil {
			return err
		}
		added, removed := 0, 0
		for _, r := range results {
			added += r.Added
			removed += r.Removed
		}
		log.Info().Int("organizations", len(results)).Int("added", added).Int("removed", removed).Msg("worker: member sync finished")
		return nil
	}
}

// ExpireKeys revokes active access keys whose expiry has passed.
func ExpireKeys(e KeyExpirer, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := e.ExpireStale(ctx, now())
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Int("revoked", n).Msg("worker: expired access keys revoked")
		}
		return nil
	}
}

func PurgeSessions(p SessionPurger, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.PurgeSessions(ctx, now())
		if err != nil {
			return err
		}
		log.Debug().Int64("purged", n).Msg("worker: stale passkey sessions purged")
		return nil
	}
}

// RunOnce runs a job, logs its failure and returns it. Panics are not recovered.
func RunOnce(ctx context.Context, job Job) error {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("worker job failed")
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	log.Debug().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("worker job done")
	return nil
}

// Run starts every job immediately and then on its interval until ctx is cancelled.
func Run(ctx context.Context, jobs ...Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if job.Interval <= 0 {
			log.Warn().Str("job", job.Name).Msg("worker job disabled: no interval")
			continue
		}
		g.Go(func() error {
			log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("worker job scheduled")
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			// a failed run is retried on the next tick
			_ = RunOnce(gctx, job)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					_ = RunOnce(gctx, job)
				}
			}
		})
	}
	return g.Wait()
}
