package metadata

import (
	"time"

	"github.com/openmined/idsync/internal/client/side"
)

// Option customizes an entry built by NewDir, NewFile or ChangedFrom.
type Option func(*Entry)

var builderEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDir builds a valid directory entry. Without a side option the entry is
// mirrored on the remote side with a side id derived from its path.
func NewDir(p string, opts ...Option) *Entry {
	return build(Directory, p, opts)
}

// NewFile builds a valid file entry. See NewDir.
func NewFile(p string, opts ...Option) *Entry {
	return build(File, p, opts)
}

// ChangedFrom builds a new entry from an existing one.
func ChangedFrom(old *Entry, opts ...Option) *Entry {
	e := old.Clone()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func build(kind Kind, p string, opts []Option) *Entry {
	e := &Entry{
		Path:      p,
		Kind:      kind,
		CreatedAt: builderEpoch,
		UpdatedAt: builderEpoch,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Local == nil && e.Remote == nil {
		OnRemote("r-"+p, 1)(e)
	}
	if e.ID == "" {
		if e.Remote != nil {
			e.ID = EntryID(side.Remote, e.Remote.ID)
		} else {
			e.ID = EntryID(side.Local, e.Local.ID)
		}
	}
	return e
}

func WithID(id string) Option {
	return func(e *Entry) { e.ID = id }
}

func WithPath(p string) Option {
	return func(e *Entry) { e.Path = p }
}

// OnLocal mirrors the entry on the local side at its current path.
func OnLocal(id string, rev int64) Option {
	return OnSide(side.Local, id, rev)
}

// OnRemote mirrors the entry on the remote side at its current path.
func OnRemote(id string, rev int64) Option {
	return OnSide(side.Remote, id, rev)
}

func OnSide(s side.Side, id string, rev int64) Option {
	return func(e *Entry) {
		e.Set(s, &SideState{ID: id, Path: e.Path, Rev: rev})
	}
}

// AbsentOn removes the entry from s.
func AbsentOn(s side.Side) Option {
	return func(e *Entry) { e.Set(s, nil) }
}

func CreatedAt(t time.Time) Option {
	return func(e *Entry) {
		e.CreatedAt = t
		if e.UpdatedAt.Before(t) {
			e.UpdatedAt = t
		}
	}
}

func WithConflictSuffix(suffix string) Option {
	return func(e *Entry) { e.ConflictSuffix = suffix }
}

// TrashedOn marks the entry trashed on s, and therefore trashed.
func TrashedOn(s side.Side) Option {
	return func(e *Entry) {
		if st := e.On(s); st != nil {
			st.Trashed = true
		}
		e.Trashed = true
	}
}
