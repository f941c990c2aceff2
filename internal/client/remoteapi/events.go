package remoteapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	eventsMinBackoff = time.Second
	eventsMaxBackoff = 30 * time.Second
)

// Subscribe listens to the remote change notices and calls onChange for
// each one until ctx is done. Lost connections are redialed with backoff.
func (c *Client) Subscribe(ctx context.Context, onChange func(Notice)) error {
	backoff := eventsMinBackoff
	for {
		start := time.Now()
		err := c.listen(ctx, onChange)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > eventsMaxBackoff {
			backoff = eventsMinBackoff
		}
		slog.Warn("remote events", "error", err, "retry", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, eventsMaxBackoff)
	}
}

func (c *Client) listen(ctx context.Context, onChange func(Notice)) error {
	conn, _, err := websocket.Dial(ctx, eventsURL(c.baseURL), &websocket.DialOptions{
		HTTPHeader: http.Header{HeaderUserAgent: []string{userAgent()}},
	})
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.CloseNow()
	slog.Info("remote events connected", "url", c.baseURL)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var n Notice
		if err := jsonUnmarshal(data, &n); err != nil {
			slog.Warn("remote events decode", "error", err)
			continue
		}
		onChange(n)
	}
}

func eventsURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + v1Events
}
