package conflict

import (
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
)

// Rename is the resolution of one loser.
type Rename struct {
	EntryID string
	Kind    side.Kind
	Winner  string
	Side    side.Side // side whose rule found the collision
	From    string
	To      string
	Suffix  string

	// RenameOn lists the sides that must rename the loser now. It is empty
	// for a loser only held by the local side: that copy is created on the
	// remote under the new name and converged later.
	RenameOn []side.Side
}

func (r *Rename) String() string {
	return fmt.Sprintf("%s -> %s on %v", r.From, r.To, r.RenameOn)
}

// Resolution is the outcome of one resolve pass.
type Resolution struct {
	Groups  []*Group
	Renames []*Rename

	// Entries is the working snapshot with every rename applied.
	Entries []*metadata.Entry

	held mapset.Set[string]
}

// Held reports whether an entry moves with a rename scheduled this pass and
// therefore must not be propagated to the other side yet.
func (r *Resolution) Held(id string) bool {
	return r.held.Contains(id)
}

func (r *Resolution) HasConflicts() bool {
	return len(r.Groups) > 0
}

// Resolver renames losers until no group remains.
type Resolver struct {
	detector *Detector
	now      func() time.Time
}

func NewResolver(detector *Detector, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{detector: detector, now: now}
}

// Resolve works depth by depth, shallowest first. Renaming a directory
// re-keys its descendants before the next depth is checked, so a child
// conflict is only reported when it survives its parent's resolution.
func (r *Resolver) Resolve(active []*metadata.Entry) *Resolution {
	snap := newSnapshot(r.detector, active)
	res := &Resolution{held: mapset.NewThreadUnsafeSet[string]()}

	token := Token(r.now())
	maxDepth := snap.maxDepth()
	for depth := 1; depth <= maxDepth; depth++ {
		for _, sd := range r.detector.Order() {
			for _, g := range r.detector.DetectAt(sd, snap.entries, depth) {
				res.Groups = append(res.Groups, g)
				for _, loser := range g.Losers() {
					rn := r.resolveLoser(snap, g, loser, token)
					res.Renames = append(res.Renames, rn)
					if len(rn.RenameOn) > 0 {
						for _, moved := range snap.subtree(loser) {
							res.held.Add(moved.ID)
						}
					}
					slog.Info("conflict", "side", g.Side, "winner", g.Winner().Path, "loser", rn.From, "rename", rn.To, "on", rn.RenameOn)
				}
			}
		}
	}

	res.Entries = snap.entries
	return res
}

// Clean is the resolution of entries that hold no collision.
func (r *Resolver) Clean(active []*metadata.Entry) *Resolution {
	return &Resolution{
		Entries: newSnapshot(r.detector, active).entries,
		held:    mapset.NewThreadUnsafeSet[string](),
	}
}

func (r *Resolver) resolveLoser(snap *snapshot, g *Group, loser *metadata.Entry, token string) *Rename {
	from := loser.Path
	to, tok := snap.free(loser, token)

	rn := &Rename{
		EntryID: loser.ID,
		Kind:    loser.Kind,
		Winner:  g.Winner().ID,
		Side:    g.Side,
		From:    from,
		To:      to,
		Suffix:  Suffix(tok),
	}
	if loser.Mirrored(side.Remote) {
		rn.RenameOn = append(rn.RenameOn, side.Remote)
		if loser.Mirrored(side.Local) {
			rn.RenameOn = append(rn.RenameOn, side.Local)
		}
	}

	snap.move(loser, to)
	return rn
}

// snapshot is the resolver's working copy of the active set, with the keys
// taken under every rule.
type snapshot struct {
	detector *Detector
	entries  []*metadata.Entry
	taken    map[side.Side]map[string]int
}

func newSnapshot(d *Detector, active []*metadata.Entry) *snapshot {
	s := &snapshot{
		detector: d,
		entries:  make([]*metadata.Entry, 0, len(active)),
		taken:    make(map[side.Side]map[string]int),
	}
	for _, sd := range d.Order() {
		s.taken[sd] = make(map[string]int)
	}
	for _, e := range active {
		if e.Trashed {
			continue
		}
		c := e.Clone()
		s.entries = append(s.entries, c)
		s.claim(c.Path, 1)
	}
	return s
}

func (s *snapshot) claim(p string, delta int) {
	for _, sd := range s.detector.Order() {
		key := s.detector.Rule(sd).Key(p)
		s.taken[sd][key] += delta
		if s.taken[sd][key] <= 0 {
			delete(s.taken[sd], key)
		}
	}
}

func (s *snapshot) isTaken(p string) bool {
	for _, sd := range s.detector.Order() {
		if s.taken[sd][s.detector.Rule(sd).Key(p)] > 0 {
			return true
		}
	}
	return false
}

func (s *snapshot) maxDepth() int {
	depth := 0
	for _, e := range s.entries {
		depth = max(depth, e.Depth())
	}
	return depth
}

// free finds a marked path for e that no rule considers taken.
func (s *snapshot) free(e *metadata.Entry, token string) (string, string) {
	for n := 0; ; n++ {
		tok := token
		if n > 0 {
			tok = fmt.Sprintf("%s-%d", token, n)
		}
		candidate := MarkedPath(e.Path, e.IsDir(), tok)
		if !s.isTaken(candidate) {
			return candidate, tok
		}
	}
}

// subtree returns e and every entry below it.
func (s *snapshot) subtree(e *metadata.Entry) []*metadata.Entry {
	out := []*metadata.Entry{e}
	if !e.IsDir() {
		return out
	}
	for _, x := range s.entries {
		if metadata.IsUnder(x.Path, e.Path) {
			out = append(out, x)
		}
	}
	return out
}

// move renames e and rebases its descendants.
func (s *snapshot) move(e *metadata.Entry, to string) {
	from := e.Path
	for _, x := range s.subtree(e) {
		s.claim(x.Path, -1)
		x.Path = metadata.Rebase(x.Path, from, to)
		s.claim(x.Path, 1)
	}
}
