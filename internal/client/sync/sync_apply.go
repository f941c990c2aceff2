package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
	"golang.org/x/sync/errgroup"
)

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeDeferred
	outcomeFailed
)

func (o *Orchestrator) applier(sd side.Side) side.Applier {
	if sd == side.Local {
		return o.cfg.Local
	}
	return o.cfg.Remote
}

// apply runs the local and remote batches in parallel. Within a side the
// batch is sequential. Failures are recorded and the batch goes on; only
// fatal errors stop it.
func (o *Orchestrator) apply(ctx context.Context, c *cycle) error {
	var g errgroup.Group
	for _, sd := range side.All {
		batch := c.plan.bySide[sd]
		if len(batch) == 0 {
			continue
		}
		g.Go(func() error {
			for _, m := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := o.applyOne(ctx, c, m); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) applyOne(ctx context.Context, c *cycle, m *side.Mutation) error {
	rep := c.report

	switch o.precheck(m) {
	case outcomeSkipped:
		slog.Debug("sync apply", "status", "Skipped", "mutation", m)
		rep.count(func(r *CycleReport) { r.Skipped++ })
		return nil
	case outcomeDeferred:
		slog.Debug("sync apply", "status", "Deferred", "mutation", m, "reason", "parent missing")
		rep.count(func(r *CycleReport) { r.Deferred++ })
		return nil
	}

	o.status.SetSyncing(m.Path)
	res, err := o.applier(m.Side).Apply(ctx, m)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return o.applyFailed(c, m, err)
	}
	if res == nil {
		res = &side.Result{ID: m.SideID, Path: m.Path}
	}

	o.retries.Reset(m.Key())
	if err := o.commit(c, m, res); err != nil {
		return fmt.Errorf("commit %s: %w", m, err)
	}
	o.status.SetCompleted(m.Path)
	rep.count(func(r *CycleReport) { r.Applied++ })
	slog.Info("sync apply", "status", "Completed", "side", m.Side, "op", m.Op, "path", m.Path)
	return nil
}

// precheck re-reads the store before a mutation is issued so a retried or
// duplicate mutation is not applied twice. It refreshes the source path of
// renames and trashes.
func (o *Orchestrator) precheck(m *side.Mutation) outcome {
	e, ok := o.store.Get(m.EntryID)
	if !ok {
		return outcomeSkipped
	}
	st := e.On(m.Side)

	switch m.Op {
	case side.OpCreate:
		if st != nil || e.Trashed {
			return outcomeSkipped
		}
	case side.OpRename:
		if st == nil || st.Trashed || st.Path == m.Path {
			return outcomeSkipped
		}
		m.SideID = st.ID
		m.From = st.Path
	case side.OpTrash, side.OpDelete:
		if st == nil || st.Trashed {
			return outcomeSkipped
		}
		m.SideID = st.ID
		m.Path = st.Path
		return outcomeApplied
	}

	if !o.parentPresent(m.Side, m.Path) {
		return outcomeDeferred
	}
	return outcomeApplied
}

func (o *Orchestrator) parentPresent(sd side.Side, p string) bool {
	dir := path.Dir(p)
	if dir == "." {
		return true
	}
	for _, e := range o.store.FindOnSide(sd, dir) {
		if e.IsDir() && e.Mirrored(sd) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) applyFailed(c *cycle, m *side.Mutation, err error) error {
	kind := classify(err)
	if kind == failureFatal {
		return err
	}

	n := o.retries.Fail(m.Key(), kind)
	c.report.count(func(r *CycleReport) { r.Failed++ })
	slog.Warn("sync apply", "status", "Failed", "mutation", m, "kind", kind, "attempt", n, "error", err)

	switch {
	case kind == failureRejected && n >= o.cfg.MaxRejections:
		o.status.SetRejected(m.Path, err)
		c.report.warn("%s rejected %d times: %v", m, n, err)
	case kind == failureTransient && n >= o.cfg.MaxRetries:
		o.status.SetError(m.Path, err)
		c.report.fail(fmt.Errorf("%s: %w: %w", m, ErrRetriesExhausted, err))
	default:
		o.status.SetError(m.Path, err)
	}
	return nil
}

// commit records a successful mutation in the store.
func (o *Orchestrator) commit(c *cycle, m *side.Mutation, res *side.Result) error {
	switch m.Op {
	case side.OpCreate:
		return o.store.Update(m.EntryID, func(e *metadata.Entry) error {
			p := res.Path
			if p == "" {
				p = m.Path
			}
			e.Set(m.Side, &metadata.SideState{ID: res.ID, Path: p, Rev: res.Rev})
			e.UpdatedAt = o.cfg.Clock()
			return nil
		})

	case side.OpRename:
		from := m.From
		err := o.store.Update(m.EntryID, func(e *metadata.Entry) error {
			st := e.On(m.Side)
			st.Path = m.Path
			st.Rev = max(st.Rev, res.Rev)
			e.UpdatedAt = o.cfg.Clock()
			return nil
		})
		if err != nil {
			return err
		}
		if rn, ok := c.renames[m.EntryID]; ok && rn.To == m.Path {
			if err := o.commitCanonical(m.EntryID, rn.To, rn.Suffix); err != nil {
				return err
			}
		}
		if m.Kind == side.KindDir {
			return o.rebaseDescendants(m.Side, from, m.Path, "", "")
		}
		return nil

	case side.OpTrash, side.OpDelete:
		return o.trash.Confirm(m.EntryID, m.Side, res.Rev)
	}
	return fmt.Errorf("unknown op %q", m.Op)
}

// commitCanonical moves the canonical path of a conflict loser and of its
// descendants. Both sides may commit the same rename; only the first one
// appends the suffix.
func (o *Orchestrator) commitCanonical(id, to, suffix string) error {
	var (
		from  string
		kind  side.Kind
		moved bool
	)
	err := o.store.Update(id, func(e *metadata.Entry) error {
		kind = e.Kind
		if e.Path == to {
			return nil
		}
		from = e.Path
		e.Path = to
		e.ConflictSuffix += suffix
		moved = true
		return nil
	})
	if err != nil || !moved {
		return err
	}
	o.status.Rename(from, to)
	if kind != side.KindDir {
		return nil
	}
	for _, d := range o.store.Descendants(from) {
		if err := o.store.Update(d.ID, func(d *metadata.Entry) error {
			if metadata.IsUnder(d.Path, from) {
				d.Path = metadata.Rebase(d.Path, from, to)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
