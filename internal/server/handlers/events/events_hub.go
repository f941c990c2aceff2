// Package events pushes a notice to connected clients whenever the hosted
// change feed grows, so they can pull without waiting for their poll timer.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	clientBufferSize = 8
	writeTimeout     = 5 * time.Second
	pingPeriod       = 15 * time.Second
)

// Notice is the only message the hub sends.
type Notice struct {
	Cursor string `json:"cursor"`
}

type client struct {
	id   string
	conn *websocket.Conn
	tx   chan Notice
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	wg      sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Notify announces the feed position to every client. Slow clients only
// need the latest notice, so a full buffer drops.
func (h *Hub) Notify(cursor string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.tx <- Notice{Cursor: cursor}:
		default:
			slog.Debug("events hub drop", "client", c.id)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades the request and serves the client until it leaves.
func (h *Hub) Handler(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Warn("events hub accept", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, tx: make(chan Notice, clientBufferSize)}
	h.add(c)
	defer h.remove(c)

	h.serve(ctx.Request.Context(), c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.wg.Add(1)
	slog.Debug("events hub registered", "client", c.id, "active", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.wg.Done()
	slog.Debug("events hub removed", "client", c.id, "active", n)
}

func (h *Hub) serve(ctx context.Context, c *client) {
	// CloseRead answers pings and cancels ctx once the peer goes away
	ctx = c.conn.CloseRead(ctx)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "")
			return
		case n := <-c.tx:
			if err := write(ctx, c.conn, n); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("events hub write", "client", c.id, "error", err)
				}
				c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// Shutdown closes every connection and waits for the handlers to return.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	for _, c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "shutdown")
	}
	h.mu.RUnlock()
	h.wg.Wait()
}
