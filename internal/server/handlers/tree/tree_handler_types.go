package tree

// ChangesParams are the query parameters of GET /api/v1/changes.
type ChangesParams struct {
	Cursor string `form:"cursor"`
}

type TreeResponse struct {
	Entries []string `json:"entries"`
	Trash   []string `json:"trash"`
	Changes int      `json:"changes"`
}

// ActionOp is a user action on the hosted tree.
type ActionOp string

const (
	ActionMkdir  ActionOp = "mkdir"
	ActionWrite  ActionOp = "write"
	ActionRename ActionOp = "rename"
	ActionTrash  ActionOp = "trash"
	ActionRemove ActionOp = "remove"
)

type ActionRequest struct {
	Op   ActionOp `json:"op" binding:"required"`
	Path string   `json:"path" binding:"required"`
	To   string   `json:"to,omitempty"`
}

type ActionResponse struct {
	ID string `json:"id,omitempty"`
}
