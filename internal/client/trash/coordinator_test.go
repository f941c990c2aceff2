package trash

import (
	"testing"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, entries ...*metadata.Entry) (*metadata.Store, *Coordinator) {
	t.Helper()
	store := metadata.NewStore(map[side.Side]pathnorm.Rule{
		side.Local:  pathnorm.NewFoldNFC(),
		side.Remote: pathnorm.Identity,
	})
	for _, e := range entries {
		require.NoError(t, store.Upsert(e))
	}
	return store, NewCoordinator(store, nil)
}

func synced(kind metadata.Kind, p string) *metadata.Entry {
	opts := []metadata.Option{metadata.OnLocal("l-"+p, 1), metadata.OnRemote("r-"+p, 1)}
	if kind == metadata.Directory {
		return metadata.NewDir(p, opts...)
	}
	return metadata.NewFile(p, opts...)
}

func TestObserve_SchedulesMirrorTrash(t *testing.T) {
	store, c := setup(t, synced(metadata.File, "a.txt"))

	require.NoError(t, c.Observe("remote:r-a.txt", side.Remote, 2))

	e, ok := store.Get("remote:r-a.txt")
	require.True(t, ok)
	assert.True(t, e.Trashed)
	assert.True(t, e.Remote.Trashed)
	assert.Equal(t, int64(2), e.Remote.Rev)
	assert.Empty(t, store.ListActive())

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, side.Local, pending[0].Side)
	assert.Equal(t, side.OpTrash, pending[0].Op)
	assert.Equal(t, "a.txt", pending[0].Path)

	// not purged until the local side confirms
	assert.Empty(t, c.Purge())
	require.NoError(t, c.Confirm("remote:r-a.txt", side.Local, 2))
	assert.Empty(t, c.Pending())
	assert.Equal(t, []string{"remote:r-a.txt"}, c.Purge())
	assert.Equal(t, 0, store.Len())
}

func TestRestore_RevivesParentOfUnsyncedEntry(t *testing.T) {
	store, c := setup(t,
		synced(metadata.Directory, "docs"),
		synced(metadata.File, "docs/old.txt"),
		metadata.NewFile("docs/new.txt", metadata.OnLocal("l-new", 1)),
		synced(metadata.Directory, "other"),
	)
	require.NoError(t, c.Observe("remote:r-docs", side.Remote, 2))
	require.NoError(t, c.Observe("remote:r-other", side.Remote, 2))

	restored, err := c.Restore(side.Remote)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "docs", restored[0].Path)

	docs, ok := store.Get("remote:r-docs")
	require.True(t, ok)
	assert.False(t, docs.Trashed)
	assert.Nil(t, docs.Remote)
	assert.True(t, docs.Mirrored(side.Local))

	// the synced child and the unrelated directory keep their tombstones
	old, ok := store.Get("remote:r-docs/old.txt")
	require.True(t, ok)
	assert.True(t, old.Trashed)
	other, ok := store.Get("remote:r-other")
	require.True(t, ok)
	assert.True(t, other.Trashed)

	restored, err = c.Restore(side.Local)
	require.NoError(t, err)
	assert.Empty(t, restored)
}

func TestObserve_DirectoryTrashesDescendants(t *testing.T) {
	store, c := setup(t,
		synced(metadata.Directory, "docs"),
		synced(metadata.Directory, "docs/sub"),
		synced(metadata.File, "docs/sub/a.txt"),
		synced(metadata.File, "docs2.txt"),
	)

	require.NoError(t, c.Observe("remote:r-docs", side.Local, 2))

	active := store.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "docs2.txt", active[0].Path)

	// one mutation, the children go with their parent
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, side.Remote, pending[0].Side)
	assert.Equal(t, "docs", pending[0].Path)

	require.NoError(t, c.Confirm("remote:r-docs", side.Remote, 3))
	assert.Len(t, c.Purge(), 3)
	assert.Equal(t, 1, store.Len())
}

func TestPurge_SingleSideEntry(t *testing.T) {
	store, c := setup(t, metadata.NewFile("draft.txt", metadata.OnLocal("l-1", 1)))

	require.NoError(t, c.Observe("local:l-1", side.Local, 2))
	assert.Empty(t, c.Pending())
	assert.Equal(t, []string{"local:l-1"}, c.Purge())
	assert.Equal(t, 0, store.Len())
}

func TestPurge_FreesPathForNewEntry(t *testing.T) {
	store, c := setup(t, synced(metadata.Directory, "alfred"))

	require.NoError(t, c.Observe("remote:r-alfred", side.Remote, 2))
	require.NoError(t, c.Confirm("remote:r-alfred", side.Local, 2))
	c.Purge()

	require.NoError(t, store.Upsert(metadata.NewDir("Alfred", metadata.OnRemote("r-new", 1))))
	key := store.Rule(side.Local).Key("alfred")
	assert.Len(t, store.FindByNormalizedPath(side.Local, key), 1)
}

func TestObserve_UnknownEntry(t *testing.T) {
	_, c := setup(t)
	assert.Error(t, c.Observe("remote:nope", side.Remote, 1))
}
