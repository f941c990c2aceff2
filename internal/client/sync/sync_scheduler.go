package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Trigger requests a cycle. Requests made while one is pending or running
// collapse into a single pending cycle.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run drives cycles until ctx is done: once at start, then on every trigger
// and whenever the poll interval elapses without one. Only exhausted retries
// and identity collisions end it with an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("sync start", "interval", o.cfg.PollInterval)

	// a timer and not a ticker, so a slow cycle does not queue ticks
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync stop")
			return nil
		case <-timer.C:
		case <-o.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if _, err := o.PullAndSyncAll(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, ErrSyncAlreadyRunning):
				slog.Debug("sync skipped", "reason", err)
			case errors.Is(err, ErrRetriesExhausted), isFatal(err):
				return err
			default:
				slog.Error("sync cycle failed", "error", err)
			}
		}
		timer.Reset(o.cfg.PollInterval)
	}
}

func isFatal(err error) bool {
	return classify(err) == failureFatal
}
