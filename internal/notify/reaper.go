package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	donorstore "lifeconnect/internal/donor/store"
	"lifeconnect/internal/platform/metrics"
	"lifeconnect/pkg/platform/sentinel"
)

// Reaper returns donors to the active pool when they ignore an alert past
// the response deadline. Without it, a silent donor stays reserved until the
// request is cancelled and is invisible to every other emergency.
type Reaper struct {
	donors    donorstore.Store
	scheduler Scheduler
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewReaper creates a reaper that polls for expired deadlines every interval.
func NewReaper(donors donorstore.Store, scheduler Scheduler, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Reaper {
	return &Reaper{
		donors:    donors,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger,
		metrics:   m,
	}
}

// Run polls until ctx is cancelled. Intended to run in its own goroutine.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.Sweep(ctx, now); err != nil {
				r.logger.ErrorContext(ctx, "notify deadline sweep failed", "error", err)
			}
		}
	}
}

// Sweep releases every donor whose deadline has passed. The release is a
// conditional notified → active write, so a donor who accepted or was
// re-notified just before the sweep is left alone.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) error {
	due, err := r.scheduler.Due(ctx, now)
	if err != nil {
		return err
	}

	for _, id := range due {
		_, err := r.donors.ReleaseIfNotified(ctx, id, now)
		switch {
		case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrInvalidState):
			continue
		case err != nil:
			r.logger.ErrorContext(ctx, "failed to release timed-out donor",
				"donor_id", id.String(),
				"error", err,
			)
			continue
		}
		r.metrics.IncNotifyTimeouts()
		r.logger.InfoContext(ctx, "released donor after response timeout", "donor_id", id.String())
	}
	return nil
}
