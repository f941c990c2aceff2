package side

import "fmt"

type Op string

const (
	OpCreate Op = "create"
	OpRename Op = "rename"
	OpTrash  Op = "trash"
	OpDelete Op = "delete"
)

// Mutation is a change scheduled on one side.
type Mutation struct {
	Op      Op     `json:"op"`
	Side    Side   `json:"side"`
	EntryID string `json:"entry_id"`
	SideID  string `json:"side_id,omitempty"` // empty for create
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`           // create: new location, rename: destination
	From    string `json:"from,omitempty"` // rename: current location on the side
}

// Key identifies the mutation across cycles for retry accounting.
func (m *Mutation) Key() string {
	return fmt.Sprintf("%s/%s/%s", m.Side, m.Op, m.EntryID)
}

func (m *Mutation) String() string {
	if m.Op == OpRename {
		return fmt.Sprintf("%s %s %s -> %s", m.Side, m.Op, m.From, m.Path)
	}
	return fmt.Sprintf("%s %s %s", m.Side, m.Op, m.Path)
}

// Result is a side's receipt for an applied mutation.
type Result struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Rev  int64  `json:"rev"`
}
