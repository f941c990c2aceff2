package sync

import (
	"log/slog"
	"sort"

	"github.com/openmined/idsync/internal/client/conflict"
	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
)

// cycle is the state threaded through one traversal of the state machine.
type cycle struct {
	report     *CycleReport
	resolution *conflict.Resolution
	renames    map[string]*conflict.Rename // entry id -> conflict rename
	plan       *plan
}

// plan holds the mutations of a cycle partitioned by destination side.
type plan struct {
	bySide map[side.Side][]*side.Mutation
}

func newPlan() *plan {
	return &plan{bySide: make(map[side.Side][]*side.Mutation)}
}

func (p *plan) add(m *side.Mutation) {
	p.bySide[m.Side] = append(p.bySide[m.Side], m)
}

func (p *plan) all() []*side.Mutation {
	var out []*side.Mutation
	for _, sd := range side.All {
		out = append(out, p.bySide[sd]...)
	}
	return out
}

var opOrder = map[side.Op]int{
	side.OpTrash:  0,
	side.OpDelete: 0,
	side.OpRename: 1,
	side.OpCreate: 2,
}

// sort orders each side's batch: trash, then renames, then creates, each
// shallowest first.
func (p *plan) sort() {
	for _, batch := range p.bySide {
		sort.SliceStable(batch, func(i, j int) bool {
			a, b := batch[i], batch[j]
			if opOrder[a.Op] != opOrder[b.Op] {
				return opOrder[a.Op] < opOrder[b.Op]
			}
			if da, db := metadata.Depth(a.Path), metadata.Depth(b.Path); da != db {
				return da < db
			}
			return a.Path < b.Path
		})
	}
}

// commitUnplaced stores the new canonical path of losers that no side has to
// rename this cycle. They are propagated under that name.
func (o *Orchestrator) commitUnplaced(c *cycle) error {
	for _, rn := range c.resolution.Renames {
		c.renames[rn.EntryID] = rn
		o.status.SetConflicted(rn.To)
		if len(rn.RenameOn) > 0 {
			continue
		}
		if err := o.commitCanonical(rn.EntryID, rn.To, rn.Suffix); err != nil {
			return err
		}
	}
	return nil
}

// plan derives every mutation from the resolved snapshot. Nothing is carried
// over from earlier cycles: what is still owed is derived again.
func (o *Orchestrator) plan(c *cycle) *plan {
	p := newPlan()

	for _, m := range o.trash.Pending() {
		p.add(m)
	}

	for _, rn := range c.resolution.Renames {
		e, ok := o.store.Get(rn.EntryID)
		if !ok {
			continue
		}
		for _, sd := range rn.RenameOn {
			st := e.On(sd)
			p.add(&side.Mutation{
				Op:      side.OpRename,
				Side:    sd,
				EntryID: e.ID,
				SideID:  st.ID,
				Kind:    e.Kind,
				Path:    rn.To,
				From:    st.Path,
			})
		}
	}

	for _, sd := range side.All {
		o.planPropagation(c, p, sd)
	}

	p.sort()
	if n := len(p.all()); n > 0 {
		slog.Debug("sync plan", "local", len(p.bySide[side.Local]), "remote", len(p.bySide[side.Remote]))
	}
	return p
}

type move struct{ from, to string }

// planPropagation schedules what sd lacks: creates for entries absent there
// and renames for entries it holds under another path. Entries held back by a
// conflict rename wait for the next cycle.
func (o *Orchestrator) planPropagation(c *cycle, p *plan, sd side.Side) {
	var moves []move
	for _, e := range c.resolution.Entries {
		if e.Trashed || c.resolution.Held(e.ID) {
			continue
		}
		st := e.On(sd)
		switch {
		case st == nil:
			p.add(&side.Mutation{
				Op:      side.OpCreate,
				Side:    sd,
				EntryID: e.ID,
				Kind:    e.Kind,
				Path:    e.Path,
			})

		case !st.Trashed && st.Path != e.Path && e.Mirrored(sd.Opposite()):
			if followsParent(moves, st.Path, e.Path) {
				continue
			}
			p.add(&side.Mutation{
				Op:      side.OpRename,
				Side:    sd,
				EntryID: e.ID,
				SideID:  st.ID,
				Kind:    e.Kind,
				Path:    e.Path,
				From:    st.Path,
			})
			if e.IsDir() {
				moves = append(moves, move{from: st.Path, to: e.Path})
			}
		}
	}
}

// followsParent reports whether a scheduled directory rename already brings
// the side path to its target.
func followsParent(moves []move, sidePath, target string) bool {
	p := sidePath
	for _, mv := range moves {
		if metadata.IsUnder(p, mv.from) {
			p = metadata.Rebase(p, mv.from, mv.to)
		}
	}
	return p != sidePath && p == target
}
