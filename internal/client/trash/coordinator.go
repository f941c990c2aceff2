// Package trash turns deletions into tombstones, mirrors them to the other
// side and purges them once every side holding the entry has trashed it.
package trash

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"time"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
)

type Coordinator struct {
	store *metadata.Store
	now   func() time.Time
}

func NewCoordinator(store *metadata.Store, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: store, now: now}
}

// Observe records a deletion reported by sd. The entry and everything below
// it on sd become trashed; nothing is removed from the store.
func (c *Coordinator) Observe(id string, sd side.Side, rev int64) error {
	return c.mark(id, sd, rev)
}

// Confirm records that a trash mutation succeeded on sd.
func (c *Coordinator) Confirm(id string, sd side.Side, rev int64) error {
	return c.mark(id, sd, rev)
}

func (c *Coordinator) mark(id string, sd side.Side, rev int64) error {
	e, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("trash %s: entry not found", id)
	}
	st := e.On(sd)
	if st == nil {
		return fmt.Errorf("trash %s: absent on %s", id, sd)
	}

	now := c.now()
	root := st.Path
	err := c.store.Update(id, func(e *metadata.Entry) error {
		st := e.On(sd)
		st.Trashed = true
		st.Rev = max(st.Rev, rev)
		e.Trashed = true
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	if !e.IsDir() {
		return nil
	}

	for _, d := range c.store.All() {
		dst := d.On(sd)
		if dst == nil || dst.Trashed || !metadata.IsUnder(dst.Path, root) {
			continue
		}
		err := c.store.Update(d.ID, func(d *metadata.Entry) error {
			d.On(sd).Trashed = true
			d.Trashed = true
			d.UpdatedAt = now
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Restore revives directories trashed on sd while the other side still
// holds entries below them that never reached sd. The revived entries lose
// their sd state so the directory is created there again. Synced
// descendants stay trashed.
func (c *Coordinator) Restore(sd side.Side) ([]*metadata.Entry, error) {
	other := sd.Opposite()
	all := c.store.All()

	var unsynced []string
	for _, e := range all {
		if !e.Trashed && e.On(sd) == nil && e.Mirrored(other) {
			unsynced = append(unsynced, e.On(other).Path)
		}
	}
	if len(unsynced) == 0 {
		return nil, nil
	}

	var restored []*metadata.Entry
	for _, e := range all {
		st := e.On(sd)
		if !e.Trashed || !e.IsDir() || st == nil || !st.Trashed || !e.Mirrored(other) {
			continue
		}
		root := e.On(other).Path
		if !slices.ContainsFunc(unsynced, func(p string) bool { return metadata.IsUnder(p, root) }) {
			continue
		}
		err := c.store.Update(e.ID, func(e *metadata.Entry) error {
			e.Set(sd, nil)
			e.Trashed = false
			e.UpdatedAt = c.now()
			return nil
		})
		if err != nil {
			return nil, err
		}
		slog.Info("trash restore", "side", sd, "path", e.Path)
		restored = append(restored, e)
	}
	return restored, nil
}

// Pending returns the trash mutations still owed by a side that holds a live
// copy of a tombstone. Entries whose trashed parent is owed on the same side
// are left out: they go with the parent.
func (c *Coordinator) Pending() []*side.Mutation {
	var out []*side.Mutation
	owed := make(map[side.Side]map[string]bool)
	for _, sd := range side.All {
		owed[sd] = make(map[string]bool)
	}

	// All is ordered shallowest first so parents are seen before children
	for _, e := range c.store.All() {
		if !e.Trashed {
			continue
		}
		for _, sd := range side.All {
			if !e.Mirrored(sd) {
				continue
			}
			st := e.On(sd)
			owed[sd][st.Path] = true
			if parentOwed(owed[sd], st.Path) {
				continue
			}
			out = append(out, &side.Mutation{
				Op:      side.OpTrash,
				Side:    sd,
				EntryID: e.ID,
				SideID:  st.ID,
				Kind:    e.Kind,
				Path:    st.Path,
			})
		}
	}
	return out
}

func parentOwed(owed map[string]bool, p string) bool {
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if owed[dir] {
			return true
		}
	}
	return false
}

// Purge removes the tombstones every holding side has acknowledged and
// returns their ids.
func (c *Coordinator) Purge() []string {
	var purged []string
	for _, e := range c.store.All() {
		if !e.Trashed || !acknowledged(e) {
			continue
		}
		c.store.Delete(e.ID)
		purged = append(purged, e.ID)
		slog.Debug("trash purge", "id", e.ID, "path", e.Path)
	}
	return purged
}

func acknowledged(e *metadata.Entry) bool {
	for _, sd := range side.All {
		if st := e.On(sd); st != nil && !st.Trashed {
			return false
		}
	}
	return true
}
