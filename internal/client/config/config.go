// Package config holds the client configuration persisted as json.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".idsync", "config.json")
	DefaultLogFilePath = filepath.Join(home, ".idsync", "logs", "idsync.log")
	DefaultDataDir     = filepath.Join(home, "IDSync")
	DefaultServerURL   = "http://127.0.0.1:8080"
)

const (
	DefaultLocalRule      = "fold"
	DefaultRemoteRule     = "identity"
	DefaultTrashContainer = ".trash"
	DefaultPollInterval   = 5 * time.Second
	DefaultMaxRetries     = 5
	DefaultMaxRejections  = 3
	DefaultLogLevel       = "info"
)

var (
	ErrNoDataDir   = errors.New("config: data dir is required")
	ErrNoServerURL = errors.New("config: server url is required")
)

type Config struct {
	DataDir        string        `json:"data_dir"`
	ServerURL      string        `json:"server_url"`
	LocalRule      string        `json:"local_rule,omitempty"`
	RemoteRule     string        `json:"remote_rule,omitempty"`
	TrashContainer string        `json:"trash_container,omitempty"`
	PollInterval   time.Duration `json:"poll_interval,omitempty"`
	MaxRetries     int           `json:"max_retries,omitempty"`
	MaxRejections  int           `json:"max_rejections,omitempty"`
	LogLevel       string        `json:"log_level,omitempty"`
	Path           string        `json:"-"`
}

// Validate fills in defaults, resolves paths and checks every field.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if c.Path, err = utils.ResolvePath(c.Path); err != nil {
		return fmt.Errorf("config path: %w", err)
	}

	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	if err := validateURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")

	if c.LocalRule == "" {
		c.LocalRule = DefaultLocalRule
	}
	if c.RemoteRule == "" {
		c.RemoteRule = DefaultRemoteRule
	}
	if _, err := c.Rules(); err != nil {
		return err
	}

	if c.TrashContainer == "" {
		c.TrashContainer = DefaultTrashContainer
	}
	if strings.ContainsAny(c.TrashContainer, `/\`) {
		return fmt.Errorf("trash container %q must be a top-level name", c.TrashContainer)
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRejections <= 0 {
		c.MaxRejections = DefaultMaxRejections
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Rules returns the path comparison rule of each side.
func (c *Config) Rules() (map[side.Side]pathnorm.Rule, error) {
	local, err := pathnorm.Parse(c.LocalRule)
	if err != nil {
		return nil, fmt.Errorf("local rule: %w", err)
	}
	remote, err := pathnorm.Parse(c.RemoteRule)
	if err != nil {
		return nil, fmt.Errorf("remote rule: %w", err)
	}
	return map[side.Side]pathnorm.Rule{side.Local: local, side.Remote: remote}, nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o644)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
