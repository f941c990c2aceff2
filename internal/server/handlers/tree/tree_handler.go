// Package tree serves a replica.Memory as a remote side over http.
package tree

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openmined/idsync/internal/client/replica"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/server/handlers/api"
)

// Notifier is told the feed position after every change to the tree.
type Notifier interface {
	Notify(cursor string)
}

type TreeHandler struct {
	remote *replica.Memory
	notify Notifier
}

func New(remote *replica.Memory, notify Notifier) *TreeHandler {
	return &TreeHandler{remote: remote, notify: notify}
}

// Changes returns the feed after the cursor.
func (h *TreeHandler) Changes(ctx *gin.Context) {
	var params ChangesParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	res, err := h.remote.Pull(ctx.Request.Context(), params.Cursor)
	if err != nil {
		if side.IsRejected(err) {
			api.AbortWithError(ctx, http.StatusConflict, api.CodeInvalidCursor, err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	ctx.PureJSON(http.StatusOK, res)
}

// Apply performs one mutation. A refusal is a 409 so the client can tell it
// apart from a failure worth retrying.
func (h *TreeHandler) Apply(ctx *gin.Context) {
	var m side.Mutation
	if err := ctx.ShouldBindJSON(&m); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if m.Op == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("op is required"))
		return
	}

	res, err := h.remote.Apply(ctx.Request.Context(), &m)
	if err != nil {
		if side.IsRejected(err) {
			api.AbortWithError(ctx, http.StatusConflict, api.CodeApplyRejected, err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	h.changed()
	ctx.PureJSON(http.StatusOK, res)
}

func (h *TreeHandler) Tree(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, &TreeResponse{
		Entries: h.remote.Tree(),
		Trash:   h.remote.TrashTree(),
		Changes: h.remote.Changes(),
	})
}

// Action changes the tree the way a user of the remote would.
func (h *TreeHandler) Action(ctx *gin.Context) {
	var req ActionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}

	var (
		id  string
		err error
	)
	switch req.Op {
	case ActionMkdir:
		id, err = h.remote.Mkdir(req.Path)
	case ActionWrite:
		id, err = h.remote.WriteFile(req.Path)
	case ActionRename:
		err = h.remote.Rename(req.Path, req.To)
	case ActionTrash:
		err = h.remote.Trash(req.Path)
	case ActionRemove:
		err = h.remote.Remove(req.Path)
	default:
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("unknown op %q", req.Op))
		return
	}
	if err != nil {
		api.AbortWithError(ctx, http.StatusConflict, api.CodeApplyRejected, err)
		return
	}
	h.changed()
	ctx.PureJSON(http.StatusOK, &ActionResponse{ID: id})
}

func (h *TreeHandler) changed() {
	if h.notify != nil {
		h.notify.Notify(strconv.Itoa(h.remote.Changes()))
	}
}
