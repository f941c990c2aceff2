package remoteapi

type TreeResponse struct {
	Entries []string `json:"entries"`
	Trash   []string `json:"trash"`
	Changes int      `json:"changes"`
}

// ActionRequest is a user action on the remote tree: mkdir, write, rename,
// trash or remove.
type ActionRequest struct {
	Op   string `json:"op"`
	Path string `json:"path"`
	To   string `json:"to,omitempty"`
}

type ActionResponse struct {
	ID string `json:"id,omitempty"`
}

type Notice struct {
	Cursor string `json:"cursor"`
}
