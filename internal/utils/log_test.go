package utils

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)
	li.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	n, err := li.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "line=1 time=2024-05-01T10:00:00Z first\n", out.String())

	_, err = li.Write([]byte("ond\ntail"))
	require.NoError(t, err)
	require.NoError(t, li.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "line=2 time=2024-05-01T10:00:00Z second", lines[1])
	assert.Equal(t, "line=3 time=2024-05-01T10:00:00Z tail", lines[2])
}

func TestMultiLogHandler(t *testing.T) {
	var debug, warn bytes.Buffer
	h := NewMultiLogHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("component", "test")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger.Debug("quiet")
	logger.Warn("loud", "path", "a.txt")

	assert.Contains(t, debug.String(), "msg=quiet")
	assert.Contains(t, debug.String(), "msg=loud")
	assert.NotContains(t, warn.String(), "quiet")
	assert.Contains(t, warn.String(), "component=test")
	assert.Contains(t, warn.String(), "path=a.txt")
}
