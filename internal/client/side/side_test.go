package side

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, Remote, Local.Opposite())
	assert.Equal(t, Local, Remote.Opposite())
}

func TestErrors_Classification(t *testing.T) {
	rejected := Rejected("path %q exists", "alfred")
	assert.True(t, IsRejected(rejected))
	assert.False(t, IsTransient(rejected))
	assert.Contains(t, rejected.Error(), `"alfred"`)

	transient := Transient("remote pull", io.ErrUnexpectedEOF)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsRejected(transient))
	assert.ErrorIs(t, transient, io.ErrUnexpectedEOF)

	wrapped := fmt.Errorf("apply: %w", rejected)
	var rerr *ApplyRejectedError
	assert.True(t, errors.As(wrapped, &rerr))
	assert.Equal(t, `path "alfred" exists`, rerr.Reason)

	assert.NoError(t, Transient("noop", nil))
}

func TestMutation_Key(t *testing.T) {
	m := &Mutation{Op: OpRename, Side: Remote, EntryID: "remote:1", From: "Alfred", Path: "Alfred-conflict-x"}
	assert.Equal(t, "remote/rename/remote:1", m.Key())
	assert.Equal(t, "remote rename Alfred -> Alfred-conflict-x", m.String())
}
