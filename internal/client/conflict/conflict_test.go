package conflict

import (
	"testing"
	"time"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func newDetector() *Detector {
	return NewDetector(map[side.Side]pathnorm.Rule{
		side.Local:  pathnorm.NewFoldNFC(),
		side.Remote: pathnorm.Identity,
	})
}

func newResolver() *Resolver {
	return NewResolver(newDetector(), func() time.Time { return t0 })
}

func paths(entries []*metadata.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestDetect_GroupsOnlyUnderStricterRule(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("alfred"),
		metadata.NewDir("Alfred"),
		metadata.NewDir("other"),
	}

	groups := newDetector().Detect(entries)
	require.Len(t, groups, 1)
	assert.Equal(t, side.Local, groups[0].Side)
	assert.Len(t, groups[0].Entries, 2)
}

func TestDetect_IgnoresTrashed(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("alfred", metadata.TrashedOn(side.Remote)),
		metadata.NewDir("Alfred"),
	}
	assert.Empty(t, newDetector().Detect(entries))
}

func TestRank(t *testing.T) {
	cases := []struct {
		name   string
		a, b   *metadata.Entry
		winner string
	}{
		{
			name:   "mirrored on checked side wins",
			a:      metadata.NewDir("alfred", metadata.CreatedAt(t1), metadata.OnLocal("l-a", 1), metadata.OnRemote("r-a", 1)),
			b:      metadata.NewDir("Alfred", metadata.CreatedAt(t0)),
			winner: "alfred",
		},
		{
			name:   "earlier createdAt wins",
			a:      metadata.NewDir("alfred", metadata.CreatedAt(t1)),
			b:      metadata.NewDir("Alfred", metadata.CreatedAt(t0)),
			winner: "Alfred",
		},
		{
			name:   "smaller id wins",
			a:      metadata.NewDir("b", metadata.WithID("remote:b")),
			b:      metadata.NewDir("B", metadata.WithID("remote:a")),
			winner: "B",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, order := range [][]*metadata.Entry{{tc.a, tc.b}, {tc.b, tc.a}} {
				group := append([]*metadata.Entry(nil), order...)
				Rank(side.Local, group)
				assert.Equal(t, tc.winner, group[0].Path)
			}
		})
	}
}

func TestResolve_RemoteOnlyLoser(t *testing.T) {
	winner := metadata.NewDir("alfred", metadata.OnLocal("l-1", 1), metadata.OnRemote("r-1", 1))
	loser := metadata.NewDir("Alfred", metadata.OnRemote("r-2", 1), metadata.CreatedAt(t1))

	res := newResolver().Resolve([]*metadata.Entry{winner, loser})
	require.Len(t, res.Renames, 1)

	rn := res.Renames[0]
	assert.Equal(t, loser.ID, rn.EntryID)
	assert.Equal(t, winner.ID, rn.Winner)
	assert.Equal(t, "Alfred", rn.From)
	assert.Equal(t, "Alfred-conflict-20240501T100000Z", rn.To)
	assert.Equal(t, "-conflict-20240501T100000Z", rn.Suffix)
	assert.Equal(t, []side.Side{side.Remote}, rn.RenameOn)
	assert.True(t, res.Held(loser.ID))
	assert.False(t, res.Held(winner.ID))

	// input is untouched
	assert.Equal(t, "Alfred", loser.Path)
	assert.ElementsMatch(t, []string{"alfred", "Alfred-conflict-20240501T100000Z"}, paths(res.Entries))
}

func TestResolver_Clean(t *testing.T) {
	live := metadata.NewDir("alfred")
	gone := metadata.NewFile("gone.txt", metadata.TrashedOn(side.Remote))

	res := newResolver().Clean([]*metadata.Entry{live, gone})
	assert.False(t, res.HasConflicts())
	assert.Empty(t, res.Renames)
	assert.Equal(t, []string{"alfred"}, paths(res.Entries))
	assert.False(t, res.Held(live.ID))

	res.Entries[0].Path = "bob"
	assert.Equal(t, "alfred", live.Path)
}

func TestResolve_PlacementRule(t *testing.T) {
	winner := metadata.NewDir("alfred", metadata.OnLocal("l-1", 1), metadata.OnRemote("r-1", 1))

	t.Run("mirrored on both", func(t *testing.T) {
		loser := metadata.NewFile("ALFRED", metadata.OnLocal("l-2", 1), metadata.OnRemote("r-2", 1), metadata.CreatedAt(t1))
		res := newResolver().Resolve([]*metadata.Entry{winner, loser})
		require.Len(t, res.Renames, 1)
		assert.Equal(t, []side.Side{side.Remote, side.Local}, res.Renames[0].RenameOn)
	})

	t.Run("local only", func(t *testing.T) {
		other := metadata.NewDir("docs", metadata.OnRemote("r-3", 1))
		loser := metadata.NewDir("Docs", metadata.OnLocal("l-3", 1), metadata.CreatedAt(t1))
		res := newResolver().Resolve([]*metadata.Entry{other, loser})
		require.Len(t, res.Renames, 1)
		// the local copy is the one mirrored on the local side, so it wins
		assert.Equal(t, other.ID, res.Renames[0].EntryID)
		assert.Equal(t, []side.Side{side.Remote}, res.Renames[0].RenameOn)
	})

	t.Run("unsynced local loser is not renamed locally", func(t *testing.T) {
		a := metadata.NewDir("notes", metadata.OnLocal("l-4", 1), metadata.CreatedAt(t0))
		b := metadata.NewDir("Notes", metadata.OnLocal("l-5", 1), metadata.CreatedAt(t1))
		res := newResolver().Resolve([]*metadata.Entry{a, b})
		require.Len(t, res.Renames, 1)
		assert.Equal(t, b.ID, res.Renames[0].EntryID)
		assert.Empty(t, res.Renames[0].RenameOn)
		assert.False(t, res.Held(b.ID))
	})
}

func TestResolve_UniqueAcrossLosers(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewFile("a.txt", metadata.CreatedAt(t0)),
		metadata.NewFile("A.txt", metadata.CreatedAt(t1)),
		metadata.NewFile("A.TXT", metadata.CreatedAt(t1.Add(time.Minute))),
		// already occupies the first candidate name
		metadata.NewFile("a-conflict-20240501T100000Z.txt"),
	}

	res := newResolver().Resolve(entries)
	require.Len(t, res.Renames, 2)

	got := []string{res.Renames[0].To, res.Renames[1].To}
	assert.ElementsMatch(t, []string{
		"A-conflict-20240501T100000Z-1.txt",
		"A-conflict-20240501T100000Z-2.TXT",
	}, got)

	// and the resolved set has no collisions left
	assert.Empty(t, newDetector().Detect(res.Entries))
}

func TestResolve_DirectoryMovesDescendants(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("alfred", metadata.OnLocal("l-1", 1), metadata.OnRemote("r-1", 1)),
		metadata.NewFile("alfred/x.txt", metadata.OnLocal("l-2", 1), metadata.OnRemote("r-2", 1)),
		metadata.NewDir("Alfred", metadata.CreatedAt(t1)),
		metadata.NewFile("Alfred/X.txt", metadata.CreatedAt(t1)),
	}

	res := newResolver().Resolve(entries)
	// the child collision disappears once its parent is renamed
	require.Len(t, res.Renames, 1)
	assert.Equal(t, "Alfred", res.Renames[0].From)
	assert.ElementsMatch(t, []string{
		"alfred",
		"alfred/x.txt",
		"Alfred-conflict-20240501T100000Z",
		"Alfred-conflict-20240501T100000Z/X.txt",
	}, paths(res.Entries))
	assert.True(t, res.Held("remote:r-Alfred/X.txt"))
}

func TestResolve_NestedConflict(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("docs", metadata.OnLocal("l-1", 1), metadata.OnRemote("r-1", 1)),
		metadata.NewFile("docs/readme.md", metadata.OnLocal("l-2", 1), metadata.OnRemote("r-2", 1)),
		metadata.NewFile("docs/README.md", metadata.CreatedAt(t1)),
	}

	res := newResolver().Resolve(entries)
	require.Len(t, res.Renames, 1)
	assert.Equal(t, "docs/README-conflict-20240501T100000Z.md", res.Renames[0].To)
}

func TestResolve_NoConflictIsNoop(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("alfred"),
		metadata.NewDir("Alfred-conflict-20240501T100000Z"),
	}
	res := newResolver().Resolve(entries)
	assert.False(t, res.HasConflicts())
	assert.Empty(t, res.Renames)
}

func TestResolve_MarkedLoserGetsSecondMarker(t *testing.T) {
	entries := []*metadata.Entry{
		metadata.NewDir("Alfred-conflict-20240501T090000Z", metadata.OnLocal("l-1", 1), metadata.OnRemote("r-1", 1)),
		metadata.NewDir("alfred-conflict-20240501T090000Z", metadata.CreatedAt(t1)),
	}

	res := newResolver().Resolve(entries)
	require.Len(t, res.Renames, 1)
	assert.Equal(t, "alfred-conflict-20240501T090000Z-conflict-20240501T100000Z", res.Renames[0].To)
	assert.Len(t, Markers(res.Renames[0].To), 2)
}
