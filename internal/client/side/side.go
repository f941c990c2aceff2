// Package side defines the two replicas of the synchronized tree and the
// narrow change-feed and apply contracts the sync core consumes from them.
package side

import (
	"context"
	"fmt"
	"time"
)

// Side identifies one replica of the synchronized tree.
type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

// All lists both sides in detection order. The local rule is the stricter one.
var All = []Side{Local, Remote}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Local {
		return Remote
	}
	return Local
}

func (s Side) String() string {
	return string(s)
}

// Kind is the closed set of entry kinds.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "directory"
)

// Change is one observation reported by a side's change feed or scan.
// Paths are slash separated and relative to the sync root.
type Change struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Rev       int64     `json:"rev"`
	Kind      Kind      `json:"kind"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Change) String() string {
	return fmt.Sprintf("%s %s rev=%d kind=%s deleted=%t", c.ID, c.Path, c.Rev, c.Kind, c.Deleted)
}

// PullResult is a batch of remote changes plus the cursor to resume from.
type PullResult struct {
	Changes []*Change `json:"changes"`
	Cursor  string    `json:"cursor"`
}

// Puller is the remote change feed. Changes are returned in the remote's own order.
type Puller interface {
	Pull(ctx context.Context, cursor string) (*PullResult, error)
}

// Scanner returns the local changes since the previous scan.
type Scanner interface {
	Scan(ctx context.Context) ([]*Change, error)
}

// Applier applies a mutation to a side. Implementations return
// ApplyRejectedError when the side refuses the mutation and
// TransientIOError for I/O failures worth retrying.
type Applier interface {
	Apply(ctx context.Context, m *Mutation) (*Result, error)
}

// RemoteReplica is the remote collaborator.
type RemoteReplica interface {
	Puller
	Applier
}

// LocalReplica is the local collaborator.
type LocalReplica interface {
	Scanner
	Applier
}
