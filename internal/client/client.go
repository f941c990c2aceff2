// Package client wires a workspace, its local directory and the remote
// server into a running sync daemon.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/idsync/internal/client/config"
	"github.com/openmined/idsync/internal/client/localfs"
	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/remoteapi"
	"github.com/openmined/idsync/internal/client/sync"
	"github.com/openmined/idsync/internal/client/workspace"
	"golang.org/x/sync/errgroup"
)

const remoteRetries = 2

type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	journal   *metadata.Journal
	local     *localfs.FS
	remote    *remoteapi.Client
	sync      *sync.Orchestrator
}

// New sets up the workspace and opens the journal. Close releases both.
func New(cfg *config.Config) (*Client, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	c := &Client{config: cfg, workspace: ws}
	if err := c.init(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) init() error {
	rules, err := c.config.Rules()
	if err != nil {
		return err
	}

	journal := metadata.NewJournal(c.workspace.JournalPath)
	if err := journal.Open(); err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	c.journal = journal

	c.local, err = localfs.New(c.workspace.SyncDir,
		localfs.WithTrashDir(c.workspace.TrashDir),
		localfs.WithIndexPath(c.workspace.IndexPath),
	)
	if err != nil {
		return fmt.Errorf("failed to open local dir: %w", err)
	}

	c.remote, err = remoteapi.New(c.config.ServerURL, remoteapi.WithRetries(remoteRetries))
	if err != nil {
		return fmt.Errorf("failed to create remote client: %w", err)
	}

	c.sync, err = sync.New(sync.Config{
		Local:          c.local,
		Remote:         c.remote,
		Rules:          rules,
		TrashContainer: c.config.TrashContainer,
		MaxRejections:  c.config.MaxRejections,
		MaxRetries:     c.config.MaxRetries,
		PollInterval:   c.config.PollInterval,
		Journal:        c.journal,
	})
	if err != nil {
		return fmt.Errorf("failed to create sync: %w", err)
	}
	return nil
}

func (c *Client) Workspace() *workspace.Workspace {
	return c.workspace
}

func (c *Client) Remote() *remoteapi.Client {
	return c.remote
}

func (c *Client) Sync() *sync.Orchestrator {
	return c.sync
}

// SyncOnce runs a single full cycle.
func (c *Client) SyncOnce(ctx context.Context) (*sync.CycleReport, error) {
	return c.sync.PullAndSyncAll(ctx)
}

// Start runs the sync loop until ctx is done. Local file events and remote
// change notices trigger cycles early.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("idsync client start", "datadir", c.config.DataDir, "server", c.config.ServerURL,
		"local_rule", c.config.LocalRule, "remote_rule", c.config.RemoteRule)

	if err := c.remote.Health(ctx); err != nil {
		slog.Warn("server unreachable, will keep retrying", "server", c.config.ServerURL, "error", err)
	}

	watcher := localfs.NewWatcher(c.workspace.SyncDir, c.sync.Trigger)
	watcher.FilterPaths(c.local.Ignored)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.sync.Run(egCtx)
	})
	eg.Go(func() error {
		return c.watchStatus(egCtx)
	})
	eg.Go(func() error {
		return c.remote.Subscribe(egCtx, func(n remoteapi.Notice) {
			slog.Debug("remote changed", "cursor", n.Cursor)
			c.sync.Trigger()
		})
	})

	err := eg.Wait()
	slog.Info("idsync client stop")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchStatus logs the paths that start needing attention.
func (c *Client) watchStatus(ctx context.Context) error {
	status := c.sync.Status()
	events := status.Subscribe()
	defer status.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Status.ConflictState {
			case sync.ConflictStateConflicted:
				slog.Warn("sync conflict", "path", ev.Path)
			case sync.ConflictStateRejected:
				slog.Warn("sync rejected", "path", ev.Path, "error", ev.Status.Error)
			}
		}
	}
}

func (c *Client) Close() error {
	var errs []error
	if c.journal != nil {
		errs = append(errs, c.journal.Close())
	}
	errs = append(errs, c.workspace.Unlock())
	return errors.Join(errs...)
}
