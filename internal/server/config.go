package server

import (
	"errors"
	"fmt"

	"github.com/openmined/idsync/internal/client/pathnorm"
)

const (
	DefaultAddr      = "127.0.0.1:8080"
	DefaultRule      = "identity"
	DefaultTrashDir  = ".trash"
	DefaultRateLimit = "50-S"
)

type Config struct {
	Http *HttpServerConfig

	// Rule is the path comparison rule of the hosted tree.
	Rule string

	// TrashDir is the visible top-level trash container of the hosted tree.
	TrashDir string

	// RateLimit is a limiter rate for /api/v1, e.g. "50-S". Empty disables it.
	RateLimit string

	// SeedFile is an optional yaml tree loaded into the replica at start.
	SeedFile string
}

type HttpServerConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
}

func (c *Config) TLS() bool {
	return c.Http != nil && c.Http.CertFile != "" && c.Http.KeyFile != ""
}

func (c *Config) Validate() error {
	if c.Http == nil || c.Http.Addr == "" {
		return errors.New("server: http addr is required")
	}
	if (c.Http.CertFile == "") != (c.Http.KeyFile == "") {
		return errors.New("server: cert and key must be set together")
	}
	if c.TrashDir == "" {
		c.TrashDir = DefaultTrashDir
	}
	if c.Rule == "" {
		c.Rule = DefaultRule
	}
	if _, err := pathnorm.Parse(c.Rule); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
