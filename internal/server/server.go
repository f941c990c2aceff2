// Package server is a development remote: it hosts an in-memory tree and
// serves its change feed and apply endpoint over http.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/replica"
	"github.com/openmined/idsync/internal/server/handlers/events"
	"github.com/openmined/idsync/internal/server/handlers/tree"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config *Config
	server *http.Server
	remote *replica.Memory
	hub    *events.Hub
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rule, err := pathnorm.Parse(config.Rule)
	if err != nil {
		return nil, err
	}

	remote := replica.NewMemory("remote", replica.WithRule(rule), replica.WithTrashDir(config.TrashDir))
	if config.SeedFile != "" {
		seed, err := LoadSeed(config.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(remote); err != nil {
			return nil, err
		}
		slog.Info("server seeded", "file", config.SeedFile, "entries", len(seed.Entries))
	}
	hub := events.NewHub()
	handler, err := SetupRoutes(config, tree.New(remote, hub), hub)
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	return &Server{
		config: config,
		remote: remote,
		hub:    hub,
		server: &http.Server{
			Addr:              config.Http.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Remote is the hosted tree.
func (s *Server) Remote() *replica.Memory {
	return s.remote
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("server start", "addr", s.config.Http.Addr, "rule", s.config.Rule, "trash", s.config.TrashDir)
	defer slog.Info("server stop")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		return s.Stop()
	})
	return eg.Wait()
}

func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.hub.Shutdown()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) runHttpServer() error {
	if s.config.TLS() {
		slog.Info("server start tls", "addr", s.config.Http.Addr, "cert", s.config.Http.CertFile, "key", s.config.Http.KeyFile)
		return s.server.ListenAndServeTLS(s.config.Http.CertFile, s.config.Http.KeyFile)
	}
	return s.server.ListenAndServe()
}
