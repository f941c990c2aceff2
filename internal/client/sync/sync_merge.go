package sync

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
)

// merge folds a batch of observations from sd into the store. Only an
// identity collision fails the merge.
func (o *Orchestrator) merge(sd side.Side, changes []*side.Change, rep *CycleReport) error {
	if sd == side.Remote {
		rep.Pulled += len(changes)
	} else {
		rep.Scanned += len(changes)
	}
	for _, ch := range changes {
		if err := o.mergeChange(sd, ch, rep); err != nil {
			return fmt.Errorf("merge %s change %s: %w", sd, ch, err)
		}
	}
	return nil
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func (o *Orchestrator) mergeChange(sd side.Side, ch *side.Change, rep *CycleReport) error {
	p := cleanPath(ch.Path)
	if ch.ID == "" || p == "" || p == "." {
		slog.Warn("sync merge", "side", sd, "status", "Ignored", "change", ch, "reason", "missing id or path")
		return nil
	}

	container := o.cfg.TrashContainer
	inTrash := p == container || metadata.IsUnder(p, container)
	if sd == side.Local && inTrash && !ch.Deleted {
		slog.Warn("sync merge", "side", sd, "status", "Ignored", "path", p, "reason", "reserved name")
		rep.warn("local %s uses the reserved name %s and is not synced", p, container)
		return nil
	}
	if sd == side.Remote && p == container {
		return nil
	}
	deleted := ch.Deleted || (sd == side.Remote && inTrash)

	e, known := o.store.FindBySideID(sd, ch.ID)
	if !known {
		if deleted {
			return nil
		}
		return o.observeNew(sd, ch, p)
	}

	if ch.Kind != "" && ch.Kind != e.Kind {
		return &metadata.IdentityCollisionError{
			ID:       e.ID,
			Side:     sd,
			SideID:   ch.ID,
			Existing: e.ID,
			Reason:   fmt.Sprintf("kind changed from %s to %s", e.Kind, ch.Kind),
		}
	}

	st := e.On(sd)
	if ch.Rev <= st.Rev {
		return nil
	}

	if deleted {
		slog.Info("sync merge", "side", sd, "op", "trash", "path", e.Path)
		o.status.SetSyncing(e.Path)
		return o.trash.Observe(e.ID, sd, ch.Rev)
	}
	return o.observeLive(sd, e, ch, p)
}

func (o *Orchestrator) observeNew(sd side.Side, ch *side.Change, p string) error {
	now := o.cfg.Clock()
	created := now
	if !ch.UpdatedAt.IsZero() {
		created = ch.UpdatedAt.UTC()
	}
	e := &metadata.Entry{
		ID:        metadata.EntryID(sd, ch.ID),
		Path:      p,
		Kind:      ch.Kind,
		CreatedAt: created,
		UpdatedAt: now,
	}
	if e.Kind == "" {
		e.Kind = side.KindFile
	}
	e.Set(sd, &metadata.SideState{ID: ch.ID, Path: p, Rev: ch.Rev})
	slog.Debug("sync merge", "side", sd, "op", "new", "path", p, "id", e.ID)
	return o.store.Upsert(e)
}

// observeLive handles a non-deleted change for a known entry: revision bumps,
// user renames and resurrections.
func (o *Orchestrator) observeLive(sd side.Side, e *metadata.Entry, ch *side.Change, p string) error {
	now := o.cfg.Clock()
	oldSidePath := e.On(sd).Path
	oldCanonical := e.Path
	renamed := oldSidePath != p

	err := o.store.Update(e.ID, func(e *metadata.Entry) error {
		st := e.On(sd)
		if st.Trashed || e.Trashed {
			// the side still has it: the entry lives on and is recreated
			// where it was trashed
			st.Trashed = false
			other := sd.Opposite()
			if ost := e.On(other); ost != nil && ost.Trashed {
				e.Set(other, nil)
			}
			e.Trashed = false
			slog.Info("sync merge", "side", sd, "op", "restore", "path", p)
		}
		if renamed {
			st.Path = p
			e.Path = p
			if e.ConflictSuffix != "" && !strings.Contains(path.Base(p), e.ConflictSuffix) {
				e.ConflictSuffix = ""
			}
			slog.Info("sync merge", "side", sd, "op", "rename", "from", oldSidePath, "to", p)
		}
		st.Rev = ch.Rev
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	if renamed && e.IsDir() {
		o.status.Rename(oldCanonical, p)
		return o.rebaseDescendants(sd, oldSidePath, p, oldCanonical, p)
	}
	return nil
}

// rebaseDescendants moves the store state of everything below a renamed
// directory: side paths under sideFrom on sd, and canonical paths under
// canonFrom when canonFrom is set.
func (o *Orchestrator) rebaseDescendants(sd side.Side, sideFrom, sideTo, canonFrom, canonTo string) error {
	for _, d := range o.store.All() {
		dst := d.On(sd)
		moveSide := dst != nil && metadata.IsUnder(dst.Path, sideFrom)
		moveCanon := canonFrom != "" && metadata.IsUnder(d.Path, canonFrom)
		if !moveSide && !moveCanon {
			continue
		}
		err := o.store.Update(d.ID, func(d *metadata.Entry) error {
			if st := d.On(sd); moveSide && st != nil && metadata.IsUnder(st.Path, sideFrom) {
				st.Path = metadata.Rebase(st.Path, sideFrom, sideTo)
			}
			if moveCanon && metadata.IsUnder(d.Path, canonFrom) {
				d.Path = metadata.Rebase(d.Path, canonFrom, canonTo)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
