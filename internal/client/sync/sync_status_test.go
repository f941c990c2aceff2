package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStatus_CompletedPathsAreDropped(t *testing.T) {
	s := NewSyncStatus(3)

	s.SetSyncing("a.txt")
	st, ok := s.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, SyncStateSyncing, st.SyncState)

	s.SetCompleted("a.txt")
	_, ok = s.Get("a.txt")
	assert.False(t, ok)
}

func TestSyncStatus_ConflictedSurvivesCompletion(t *testing.T) {
	s := NewSyncStatus(3)

	s.SetConflicted("a-conflict-20240501T100000Z.txt")
	s.SetSyncing("a-conflict-20240501T100000Z.txt")
	s.SetCompleted("a-conflict-20240501T100000Z.txt")

	st, ok := s.Get("a-conflict-20240501T100000Z.txt")
	require.True(t, ok)
	assert.Equal(t, ConflictStateConflicted, st.ConflictState)
	assert.Equal(t, 1, s.ConflictedCount())

	s.Rename("a-conflict-20240501T100000Z.txt", "b.txt")
	_, ok = s.Get("b.txt")
	assert.True(t, ok)
	assert.Len(t, s.All(), 1)
}

func TestSyncStatus_RejectedClearsOnSuccess(t *testing.T) {
	s := NewSyncStatus(3)
	s.SetRejected("locked", errors.New("no"))
	assert.Equal(t, 1, s.RejectedCount())
	assert.Equal(t, 1, s.ErrorCount())

	s.SetCompleted("locked")
	assert.Equal(t, 0, s.RejectedCount())
	_, ok := s.Get("locked")
	assert.False(t, ok)
}

func TestSyncStatus_ErrorCount(t *testing.T) {
	s := NewSyncStatus(2)
	s.SetError("x", errors.New("boom"))
	s.SetError("x", errors.New("boom"))

	st, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 2, st.ErrorCount)
	assert.EqualError(t, st.Error, "boom")
}

func TestSyncStatus_Subscribe(t *testing.T) {
	s := NewSyncStatus(3)
	ch := s.Subscribe()

	s.SetConflicted("a")
	select {
	case ev := <-ch:
		assert.Equal(t, "a", ev.Path)
		assert.Equal(t, ConflictStateConflicted, ev.Status.ConflictState)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	s.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestSyncStatus_Cleanup(t *testing.T) {
	s := NewSyncStatus(3)
	s.SetConflicted("old")
	s.Cleanup(-time.Second)
	assert.Equal(t, 0, s.ConflictedCount())
}

func TestCycleReport(t *testing.T) {
	rep := newCycleReport(testNow)
	assert.False(t, rep.HasChanges())
	assert.NoError(t, rep.Err())

	rep.warn("w %d", 1)
	rep.fail(ErrRetriesExhausted)
	rep.count(func(r *CycleReport) { r.Applied++ })

	assert.Equal(t, []string{"w 1"}, rep.Warnings)
	assert.ErrorIs(t, rep.Err(), ErrRetriesExhausted)
	assert.Contains(t, rep.String(), "applied=1")
}
