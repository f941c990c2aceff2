package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/idsync/internal/client/config"
	"github.com/openmined/idsync/internal/client/workspace"
	"github.com/openmined/idsync/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *server.Server) {
	t.Helper()

	srv, err := server.New(&server.Config{Http: &server.HttpServerConfig{Addr: server.DefaultAddr}})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tmp := t.TempDir()
	cfg := &config.Config{DataDir: tmp, ServerURL: ts.URL, Path: filepath.Join(tmp, "config.json")}
	require.NoError(t, cfg.Validate())

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestClient_SyncOnce(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	_, err := srv.Remote().Mkdir("docs")
	require.NoError(t, err)
	_, err = srv.Remote().WriteFile("docs/Notes.txt")
	require.NoError(t, err)
	_, err = srv.Remote().WriteFile("docs/notes.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(c.Workspace().SyncDir, "local.txt"), nil, 0o644))

	for i := 0; i < 3; i++ {
		_, err := c.SyncOnce(ctx)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(c.Workspace().SyncDir, "docs"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, ok := srv.Remote().Lookup("local.txt")
	assert.True(t, ok)
	tree := srv.Remote().Tree()
	assert.Contains(t, tree, ".trash/")
	assert.Len(t, tree, 5)
}

func TestClient_WatchStatus(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.watchStatus(ctx) }()

	c.Sync().Status().SetConflicted("a-conflict-20240501T100000Z")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchStatus did not stop")
	}
}

func TestClient_WorkspaceIsExclusive(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := New(c.config)
	assert.ErrorIs(t, err, workspace.ErrWorkspaceLocked)
}
