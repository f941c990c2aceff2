// Package metadata keeps the index of known entries and their per-side state.
package metadata

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/openmined/idsync/internal/client/side"
)

type Kind = side.Kind

const (
	File      = side.KindFile
	Directory = side.KindDir
)

var ErrInvalidEntry = errors.New("invalid entry")

// SideState is what one side currently holds for an entry.
type SideState struct {
	ID      string // the side's own identifier
	Path    string // the path as the side holds it
	Rev     int64
	Trashed bool
}

func (s *SideState) clone() *SideState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Entry is the unit of synchronization.
type Entry struct {
	ID             string
	Path           string // canonical path both sides converge to
	Kind           Kind
	Local          *SideState
	Remote         *SideState
	Trashed        bool
	ConflictSuffix string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EntryID derives the stable identifier of an entry first observed on s.
func EntryID(s side.Side, sideID string) string {
	return string(s) + ":" + sideID
}

// On returns the state held by s, nil when the entry is absent there.
func (e *Entry) On(s side.Side) *SideState {
	if s == side.Local {
		return e.Local
	}
	return e.Remote
}

// Set replaces the state held by s. A nil state marks the entry absent on s.
func (e *Entry) Set(s side.Side, st *SideState) {
	if s == side.Local {
		e.Local = st
	} else {
		e.Remote = st
	}
}

// Mirrored reports whether s holds a live copy of the entry.
func (e *Entry) Mirrored(s side.Side) bool {
	st := e.On(s)
	return st != nil && !st.Trashed
}

func (e *Entry) IsDir() bool {
	return e.Kind == Directory
}

// Name is the final path component.
func (e *Entry) Name() string {
	return path.Base(e.Path)
}

func (e *Entry) Depth() int {
	return Depth(e.Path)
}

func (e *Entry) Clone() *Entry {
	c := *e
	c.Local = e.Local.clone()
	c.Remote = e.Remote.clone()
	return &c
}

// Validate checks the invariants an entry must hold before it is stored.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return errors.Join(ErrInvalidEntry, errors.New("empty id"))
	}
	if e.Path == "" || strings.HasPrefix(e.Path, "/") {
		return errors.Join(ErrInvalidEntry, errors.New("path must be relative and non-empty: "+e.ID))
	}
	if e.Kind != File && e.Kind != Directory {
		return errors.Join(ErrInvalidEntry, errors.New("unknown kind: "+string(e.Kind)))
	}
	if e.Local == nil && e.Remote == nil {
		return errors.Join(ErrInvalidEntry, errors.New("entry absent on both sides: "+e.ID))
	}
	return nil
}

// Depth counts the components of a slash separated path.
func Depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// IsUnder reports whether p is a strict descendant of dir.
func IsUnder(p, dir string) bool {
	return strings.HasPrefix(p, dir+"/")
}

// Rebase moves p from under oldDir to under newDir. p must be oldDir or below it.
func Rebase(p, oldDir, newDir string) string {
	if p == oldDir {
		return newDir
	}
	return newDir + strings.TrimPrefix(p, oldDir)
}
