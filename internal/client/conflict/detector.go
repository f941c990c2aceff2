// Package conflict finds entries whose paths collide under a side's
// comparison rule and renames the losers so every path is unique again.
package conflict

import (
	"sort"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
)

// Group is a set of active entries sharing a normalized path on one side.
// Entries are ranked: the first one is the winner.
type Group struct {
	Side    side.Side
	Key     string
	Entries []*metadata.Entry
}

func (g *Group) Winner() *metadata.Entry {
	return g.Entries[0]
}

func (g *Group) Losers() []*metadata.Entry {
	return g.Entries[1:]
}

func (g *Group) Depth() int {
	return metadata.Depth(g.Winner().Path)
}

// Detector groups entries by normalized path, one pass per side.
type Detector struct {
	rules map[side.Side]pathnorm.Rule
	order []side.Side
}

// NewDetector checks sides in the given order, side.All when none is given.
func NewDetector(rules map[side.Side]pathnorm.Rule, order ...side.Side) *Detector {
	if len(order) == 0 {
		order = side.All
	}
	r := make(map[side.Side]pathnorm.Rule, len(order))
	for _, sd := range order {
		rule := rules[sd]
		if rule == nil {
			rule = pathnorm.Identity
		}
		r[sd] = rule
	}
	return &Detector{rules: r, order: order}
}

func (d *Detector) Order() []side.Side {
	return d.order
}

func (d *Detector) Rule(sd side.Side) pathnorm.Rule {
	return d.rules[sd]
}

// Detect returns every conflict group among the active entries, per side in
// order, shallowest first.
func (d *Detector) Detect(entries []*metadata.Entry) []*Group {
	var groups []*Group
	for _, sd := range d.order {
		groups = append(groups, d.detectSide(sd, entries, 0)...)
	}
	return groups
}

// DetectAt is Detect restricted to one side and to entries at depth.
func (d *Detector) DetectAt(sd side.Side, entries []*metadata.Entry, depth int) []*Group {
	return d.detectSide(sd, entries, depth)
}

func (d *Detector) detectSide(sd side.Side, entries []*metadata.Entry, depth int) []*Group {
	rule := d.rules[sd]
	byKey := make(map[string][]*metadata.Entry)
	for _, e := range entries {
		if e.Trashed {
			continue
		}
		if depth > 0 && e.Depth() != depth {
			continue
		}
		key := rule.Key(e.Path)
		byKey[key] = append(byKey[key], e)
	}

	var groups []*Group
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		Rank(sd, members)
		groups = append(groups, &Group{Side: sd, Key: key, Entries: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		di, dj := groups[i].Depth(), groups[j].Depth()
		if di != dj {
			return di < dj
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

// Rank orders conflicting entries, winner first. An entry already mirrored on
// sd comes first, then the earlier createdAt, then the smaller id.
func Rank(sd side.Side, entries []*metadata.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Outranks(sd, entries[i], entries[j])
	})
}

// Outranks reports whether a beats b in a group checked on sd.
func Outranks(sd side.Side, a, b *metadata.Entry) bool {
	am, bm := a.Mirrored(sd), b.Mirrored(sd)
	if am != bm {
		return am
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
