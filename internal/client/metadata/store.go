package metadata

import (
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
)

type keyIndex map[string]mapset.Set[string]

func (ix keyIndex) add(key, id string) {
	set, ok := ix[key]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		ix[key] = set
	}
	set.Add(id)
}

func (ix keyIndex) remove(key, id string) {
	if set, ok := ix[key]; ok {
		set.Remove(id)
		if set.Cardinality() == 0 {
			delete(ix, key)
		}
	}
}

// Store is the in-memory index of known entries. It allows several active
// entries to share a normalized path while a cycle is in flight and only
// fails on identifier misuse. Entries handed out are copies.
type Store struct {
	mu      sync.RWMutex
	rules   map[side.Side]pathnorm.Rule
	entries map[string]*Entry

	bySideID   map[side.Side]map[string]string // side id -> entry id
	byKey      map[side.Side]keyIndex          // rule(canonical path) -> active entry ids
	bySidePath map[side.Side]keyIndex          // rule(side path) -> entry ids live on that side
}

func NewStore(rules map[side.Side]pathnorm.Rule) *Store {
	s := &Store{
		rules:      make(map[side.Side]pathnorm.Rule, len(side.All)),
		entries:    make(map[string]*Entry),
		bySideID:   make(map[side.Side]map[string]string),
		byKey:      make(map[side.Side]keyIndex),
		bySidePath: make(map[side.Side]keyIndex),
	}
	for _, sd := range side.All {
		rule, ok := rules[sd]
		if !ok || rule == nil {
			rule = pathnorm.Identity
		}
		s.rules[sd] = rule
		s.bySideID[sd] = make(map[string]string)
		s.byKey[sd] = make(keyIndex)
		s.bySidePath[sd] = make(keyIndex)
	}
	return s
}

// Rule returns the comparison rule of a side.
func (s *Store) Rule(sd side.Side) pathnorm.Rule {
	return s.rules[sd]
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Upsert inserts or replaces an entry.
func (s *Store) Upsert(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(e.Clone())
}

// Update applies fn to the stored entry atomically. fn may return an error to abort.
func (s *Store) Update(id string, fn func(e *Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %s not found", id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.upsertLocked(next)
}

func (s *Store) upsertLocked(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	prev, exists := s.entries[e.ID]
	if exists && prev.Kind != e.Kind {
		return &IdentityCollisionError{ID: e.ID, Reason: fmt.Sprintf("kind changed from %s to %s", prev.Kind, e.Kind)}
	}

	for _, sd := range side.All {
		st := e.On(sd)
		if st == nil || st.ID == "" {
			continue
		}
		if owner, ok := s.bySideID[sd][st.ID]; ok && owner != e.ID {
			return &IdentityCollisionError{ID: e.ID, Side: sd, SideID: st.ID, Existing: owner, Reason: "side id already bound"}
		}
	}

	if exists {
		s.unindex(prev)
	}
	s.entries[e.ID] = e
	s.index(e)
	return nil
}

// Delete purges an entry, freeing its paths and side ids.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		s.unindex(e)
		delete(s.entries, id)
	}
}

func (s *Store) index(e *Entry) {
	for _, sd := range side.All {
		rule := s.rules[sd]
		if !e.Trashed {
			s.byKey[sd].add(rule.Key(e.Path), e.ID)
		}
		if st := e.On(sd); st != nil {
			if st.ID != "" {
				s.bySideID[sd][st.ID] = e.ID
			}
			if !st.Trashed {
				s.bySidePath[sd].add(rule.Key(st.Path), e.ID)
			}
		}
	}
}

func (s *Store) unindex(e *Entry) {
	for _, sd := range side.All {
		rule := s.rules[sd]
		s.byKey[sd].remove(rule.Key(e.Path), e.ID)
		if st := e.On(sd); st != nil {
			if s.bySideID[sd][st.ID] == e.ID {
				delete(s.bySideID[sd], st.ID)
			}
			s.bySidePath[sd].remove(rule.Key(st.Path), e.ID)
		}
	}
}

// FindByNormalizedPath returns the active entries whose canonical path maps
// to key under the rule of sd.
func (s *Store) FindByNormalizedPath(sd side.Side, key string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byKey[sd][key])
}

// FindOnSide returns the entries that sd currently holds at p, compared under sd's rule.
func (s *Store) FindOnSide(sd side.Side, p string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySidePath[sd][s.rules[sd].Key(p)])
}

func (s *Store) FindBySideID(sd side.Side, sideID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySideID[sd][sideID]
	if !ok {
		return nil, false
	}
	return s.entries[id].Clone(), true
}

func (s *Store) collect(ids mapset.Set[string]) []*Entry {
	if ids == nil {
		return nil
	}
	out := make([]*Entry, 0, ids.Cardinality())
	for _, id := range ids.ToSlice() {
		out = append(out, s.entries[id].Clone())
	}
	sortEntries(out)
	return out
}

// ListActive returns the non-trashed entries ordered by depth, then path.
func (s *Store) ListActive() []*Entry {
	return s.list(func(e *Entry) bool { return !e.Trashed })
}

// All returns every entry, tombstones included.
func (s *Store) All() []*Entry {
	return s.list(func(*Entry) bool { return true })
}

// Descendants returns the entries whose canonical path lies under p.
func (s *Store) Descendants(p string) []*Entry {
	return s.list(func(e *Entry) bool { return IsUnder(e.Path, p) })
}

func (s *Store) list(keep func(*Entry) bool) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out
}

// Load inserts entries read back from a journal.
func (s *Store) Load(entries []*Entry) error {
	for _, e := range entries {
		if err := s.Upsert(e); err != nil {
			return fmt.Errorf("load %s: %w", e.ID, err)
		}
	}
	return nil
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].Depth(), entries[j].Depth()
		if di != dj {
			return di < dj
		}
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].ID < entries[j].ID
	})
}
