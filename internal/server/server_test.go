package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Seed(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("entries:\n  - docs/\n  - docs/Readme.md\n  - docs/README.md\n"), 0o644))

	srv, err := New(&Config{Http: &HttpServerConfig{Addr: DefaultAddr}, SeedFile: seedPath})
	require.NoError(t, err)
	assert.Equal(t, []string{".trash/", "docs/", "docs/README.md", "docs/Readme.md"}, srv.Remote().Tree())
}

func TestNew_SeedErrors(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "entries: [\n"},
		{"missing parent", "entries:\n  - docs/a.txt\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(tmp, tt.name+".yaml")
			require.NoError(t, os.WriteFile(p, []byte(tt.content), 0o644))
			_, err := New(&Config{Http: &HttpServerConfig{Addr: DefaultAddr}, SeedFile: p})
			assert.Error(t, err)
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv, err := New(&Config{Http: &HttpServerConfig{Addr: addr}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
