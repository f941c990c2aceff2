package metadata

import (
	"errors"
	"testing"

	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(map[side.Side]pathnorm.Rule{
		side.Local:  pathnorm.NewFoldNFC(),
		side.Remote: pathnorm.Identity,
	})
}

func ids(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore()
	e := NewDir("alfred")
	require.NoError(t, s.Upsert(e))

	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, "alfred", got.Path)
	assert.Equal(t, "remote:r-alfred", got.ID)

	// returned entries are copies
	got.Path = "changed"
	again, _ := s.Get(e.ID)
	assert.Equal(t, "alfred", again.Path)

	_, ok = s.Get("remote:missing")
	assert.False(t, ok)
}

func TestStore_UpsertRejectsInvalid(t *testing.T) {
	s := newTestStore()

	err := s.Upsert(&Entry{ID: "x", Path: "/abs", Kind: File, Remote: &SideState{ID: "x"}})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	err = s.Upsert(&Entry{ID: "x", Path: "a", Kind: File})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestStore_AllowsNormalizedDuplicates(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(NewDir("alfred")))
	require.NoError(t, s.Upsert(NewDir("Alfred")))

	local := s.FindByNormalizedPath(side.Local, s.Rule(side.Local).Key("ALFRED"))
	assert.Len(t, local, 2)

	remote := s.FindByNormalizedPath(side.Remote, "Alfred")
	assert.Equal(t, []string{"remote:r-Alfred"}, ids(remote))
}

func TestStore_IdentityCollision(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(NewDir("alfred")))

	t.Run("kind change", func(t *testing.T) {
		err := s.Upsert(NewFile("alfred"))
		var collision *IdentityCollisionError
		require.True(t, errors.As(err, &collision))
		assert.ErrorIs(t, err, ErrIdentityCollision)
	})

	t.Run("side id reused", func(t *testing.T) {
		err := s.Upsert(NewDir("other", WithID("remote:other"), OnRemote("r-alfred", 1)))
		assert.ErrorIs(t, err, ErrIdentityCollision)
	})
}

func TestStore_IndexesFollowUpdates(t *testing.T) {
	s := newTestStore()
	e := NewDir("alfred", OnLocal("l-1", 1))
	require.NoError(t, s.Upsert(e))

	err := s.Update(e.ID, func(e *Entry) error {
		e.Path = "Alfred-conflict-x"
		e.Local.Path = "Alfred-conflict-x"
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, s.FindByNormalizedPath(side.Remote, "alfred"))
	assert.Len(t, s.FindByNormalizedPath(side.Remote, "Alfred-conflict-x"), 1)
	assert.Len(t, s.FindOnSide(side.Local, "ALFRED-CONFLICT-X"), 1)

	found, ok := s.FindBySideID(side.Local, "l-1")
	require.True(t, ok)
	assert.Equal(t, e.ID, found.ID)
}

func TestStore_UpdateAbort(t *testing.T) {
	s := newTestStore()
	e := NewFile("a.txt")
	require.NoError(t, s.Upsert(e))

	boom := errors.New("boom")
	err := s.Update(e.ID, func(e *Entry) error {
		e.Path = "b.txt"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(e.ID)
	assert.Equal(t, "a.txt", got.Path)

	assert.Error(t, s.Update("remote:nope", func(*Entry) error { return nil }))
}

func TestStore_TrashedExcludedFromActive(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(NewDir("a")))
	require.NoError(t, s.Upsert(NewFile("a/b.txt")))
	require.NoError(t, s.Upsert(NewFile("c", OnRemote("r-c", 1), TrashedOn(side.Remote))))

	assert.Equal(t, []string{"remote:r-a", "remote:r-a/b.txt"}, ids(s.ListActive()))
	assert.Len(t, s.All(), 3)
	assert.Empty(t, s.FindByNormalizedPath(side.Remote, "c"))
	assert.Empty(t, s.FindOnSide(side.Remote, "c"))
}

func TestStore_DeleteFreesIdentifiers(t *testing.T) {
	s := newTestStore()
	e := NewDir("alfred")
	require.NoError(t, s.Upsert(e))
	s.Delete(e.ID)

	assert.Equal(t, 0, s.Len())
	_, ok := s.FindBySideID(side.Remote, "r-alfred")
	assert.False(t, ok)

	// side id can be bound again
	require.NoError(t, s.Upsert(NewDir("alfred2", WithID("remote:new"), OnRemote("r-alfred", 2))))
}

func TestStore_Descendants(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(NewDir("a")))
	require.NoError(t, s.Upsert(NewDir("a/b")))
	require.NoError(t, s.Upsert(NewFile("a/b/c.txt")))
	require.NoError(t, s.Upsert(NewFile("ab.txt")))

	assert.Equal(t, []string{"remote:r-a/b", "remote:r-a/b/c.txt"}, ids(s.Descendants("a")))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, 0, Depth(""))
	assert.Equal(t, 1, Depth("a"))
	assert.Equal(t, 3, Depth("a/b/c"))

	assert.True(t, IsUnder("a/b", "a"))
	assert.False(t, IsUnder("ab", "a"))
	assert.False(t, IsUnder("a", "a"))

	assert.Equal(t, "x/b/c", Rebase("a/b/c", "a", "x"))
	assert.Equal(t, "x", Rebase("a", "a", "x"))
}

func TestBuilders(t *testing.T) {
	local := NewFile("notes.md", OnLocal("ino-1", 3))
	assert.Equal(t, "local:ino-1", local.ID)
	assert.Nil(t, local.Remote)
	assert.Equal(t, int64(3), local.Local.Rev)

	changed := ChangedFrom(local, WithPath("Notes.md"), OnRemote("r-9", 1))
	assert.Equal(t, local.ID, changed.ID)
	assert.Equal(t, "Notes.md", changed.Remote.Path)
	assert.Equal(t, "notes.md", local.Path)
}
