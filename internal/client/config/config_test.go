package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		DataDir:   tmp,
		ServerURL: "http://127.0.0.1:8080/",
		Path:      filepath.Join(tmp, "config.json"),
	}

	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.True(t, filepath.IsAbs(cfg.Path))
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ServerURL)
	assert.Equal(t, DefaultLocalRule, cfg.LocalRule)
	assert.Equal(t, DefaultRemoteRule, cfg.RemoteRule)
	assert.Equal(t, DefaultTrashContainer, cfg.TrashContainer)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultMaxRejections, cfg.MaxRejections)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, pathnorm.Identity, rules[side.Remote])
	assert.Equal(t, rules[side.Local].Key("Readme.MD"), rules[side.Local].Key("README.md"))

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	tmp := t.TempDir()
	valid := func() *Config {
		return &Config{DataDir: tmp, ServerURL: "http://127.0.0.1:8080", Path: filepath.Join(tmp, "config.json")}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data dir"},
		{"no server url", func(c *Config) { c.ServerURL = "" }, "server url"},
		{"bad server url", func(c *Config) { c.ServerURL = "ftp://bad.example.com" }, "server url"},
		{"server url without host", func(c *Config) { c.ServerURL = "http://" }, "server url"},
		{"bad local rule", func(c *Config) { c.LocalRule = "soundex" }, "local rule"},
		{"bad remote rule", func(c *Config) { c.RemoteRule = "soundex" }, "remote rule"},
		{"nested trash", func(c *Config) { c.TrashContainer = "a/.trash" }, "top-level"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "config.json")

	cfg := &Config{
		DataDir:      tmp,
		ServerURL:    "https://sync.example.com",
		LocalRule:    "identity",
		PollInterval: 30 * time.Second,
		MaxRetries:   7,
		LogLevel:     "debug",
		Path:         path,
	}

	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.DataDir, loaded.DataDir)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, "identity", loaded.LocalRule)
	assert.Equal(t, 30*time.Second, loaded.PollInterval)
	assert.Equal(t, 7, loaded.MaxRetries)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, path, loaded.Path)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tmp := t.TempDir()

	_, err := LoadFromFile(filepath.Join(tmp, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(tmp, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}
