package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/idsync/internal/client/remoteapi"
	"github.com/openmined/idsync/internal/client/sync"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCmd gives each test its own flag set so parsed values do not leak.
func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "idsync", RunE: func(*cobra.Command, []string) error { return nil }}
	addConfigFlags(cmd.PersistentFlags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("IDSYNC_DATA_DIR", tmp)
	t.Setenv("IDSYNC_SERVER_URL", "https://sync.example.com")
	t.Setenv("IDSYNC_POLL_INTERVAL", "30s")
	t.Setenv("IDSYNC_MAX_RETRIES", "9")
	t.Setenv("IDSYNC_CONFIG_PATH", filepath.Join(tmp, "config.json"))

	cfg, err := loadConfig(newTestCmd(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, tmp, cfg.DataDir)
	assert.Equal(t, "https://sync.example.com", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 9, cfg.MaxRetries)
}

func TestLoadConfigJSON(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	"data_dir": "/tmp/idsync-test-json",
	"server_url": "https://json.example.com",
	"local_rule": "identity",
	"max_rejections": 4
}`), 0o644))

	cfg, err := loadConfig(newTestCmd(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/tmp/idsync-test-json", cfg.DataDir)
	assert.Equal(t, "https://json.example.com", cfg.ServerURL)
	assert.Equal(t, "identity", cfg.LocalRule)
	assert.Equal(t, 4, cfg.MaxRejections)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url": "https://json.example.com"}`), 0o644))

	cfg, err := loadConfig(newTestCmd(t, "--config", path, "--server", "http://127.0.0.1:9000", "--remote-rule", "fold"))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9000", cfg.ServerURL)
	assert.Equal(t, "fold", cfg.RemoteRule)
}

func TestPrintReport(t *testing.T) {
	rep := &sync.CycleReport{Conflicts: 1, Applied: 2, Warnings: []string{"remote/rename/x rejected 3 times"}}

	var out bytes.Buffer
	printReport(&out, 1, rep)

	got := out.String()
	assert.Contains(t, got, "cycle 1")
	assert.Contains(t, got, "1 conflict,")
	assert.Contains(t, got, "2 entries applied")
	assert.Contains(t, got, "rejected 3 times")
}

func TestPrintStatus(t *testing.T) {
	paths := map[string]sync.PathStatus{
		"b.txt":                       {SyncState: sync.SyncStateError, ConflictState: sync.ConflictStateNone, Error: errors.New("timeout"), ErrorCount: 2},
		"a-conflict-20240501T100000Z": {SyncState: sync.SyncStateCompleted, ConflictState: sync.ConflictStateConflicted},
		"locked":                      {SyncState: sync.SyncStateError, ConflictState: sync.ConflictStateRejected, Error: errors.New("no")},
		"clean":                       {SyncState: sync.SyncStateSyncing, ConflictState: sync.ConflictStateNone},
	}

	var out bytes.Buffer
	printStatus(&out, paths)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "conflicted a-conflict-20240501T100000Z")
	assert.Contains(t, lines[1], "error b.txt: timeout (2 attempts)")
	assert.Contains(t, lines[2], "rejected locked: no")
}

func TestPrintTree(t *testing.T) {
	tr := &remoteapi.TreeResponse{
		Entries: []string{"docs/", "docs/a-conflict-20240501T100000Z.txt", "docs/a.txt"},
		Trash:   []string{".trash/old.txt"},
		Changes: 5,
	}

	var out bytes.Buffer
	printTree(&out, tr, true)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "remote tree (5 changes)", lines[0])
	assert.Equal(t, "docs/", lines[1])
	assert.Equal(t, "  a-conflict-20240501T100000Z.txt", lines[2])
	assert.Equal(t, "trash", lines[4])
	assert.Equal(t, "  old.txt", lines[5])
}
