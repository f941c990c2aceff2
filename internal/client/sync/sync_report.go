package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/idsync/internal/client/side"
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration

	Pulled    int
	Scanned   int
	Conflicts int
	Renames   int

	// Mutations is every mutation the cycle planned.
	Mutations []*side.Mutation
	Applied   int
	Failed    int
	Deferred  int
	Skipped   int
	Purged    int

	Warnings []string
	Errors   []error
	Aborted  bool

	mu sync.Mutex
}

func newCycleReport(now time.Time) *CycleReport {
	return &CycleReport{Started: now}
}

// HasChanges reports whether the cycle touched the store or either side.
func (r *CycleReport) HasChanges() bool {
	return len(r.Mutations) > 0 || r.Purged > 0 || r.Conflicts > 0
}

// Err joins the errors that escape the orchestrator.
func (r *CycleReport) Err() error {
	return errors.Join(r.Errors...)
}

func (r *CycleReport) warn(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, fmt.Sprintf(msg, args...))
}

func (r *CycleReport) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// count updates the outcome counters from the apply goroutines.
func (r *CycleReport) count(fn func(r *CycleReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *CycleReport) String() string {
	return fmt.Sprintf("pulled=%d scanned=%d conflicts=%d mutations=%d applied=%d failed=%d deferred=%d skipped=%d purged=%d",
		r.Pulled, r.Scanned, r.Conflicts, len(r.Mutations), r.Applied, r.Failed, r.Deferred, r.Skipped, r.Purged)
}

func (r *CycleReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pulled", r.Pulled),
		slog.Int("scanned", r.Scanned),
		slog.Int("conflicts", r.Conflicts),
		slog.Int("mutations", len(r.Mutations)),
		slog.Int("applied", r.Applied),
		slog.Int("failed", r.Failed),
		slog.Int("deferred", r.Deferred),
		slog.Int("skipped", r.Skipped),
		slog.Int("purged", r.Purged),
		slog.Int("warnings", len(r.Warnings)),
		slog.Duration("duration", r.Duration),
	)
}
