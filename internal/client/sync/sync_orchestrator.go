// Package sync runs the pull, detect, resolve and apply cycle that keeps the
// local and remote trees converged.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmined/idsync/internal/client/conflict"
	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/client/trash"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTrashContainer = ".trash"
	DefaultMaxRejections  = 3
	DefaultMaxRetries     = 5
	DefaultPollInterval   = 5 * time.Second
)

const (
	keyPull    = "remote/pull"
	keyScan    = "local/scan"
	keyJournal = "journal/save"
)

type Config struct {
	Local  side.LocalReplica
	Remote side.RemoteReplica

	// Rules maps each side to its path comparison rule. Missing sides
	// compare paths byte for byte.
	Rules map[side.Side]pathnorm.Rule

	// TrashContainer is the reserved top-level name of the remote trash.
	TrashContainer string

	MaxRejections int
	MaxRetries    int
	PollInterval  time.Duration

	// Journal persists the store and cursor between runs. Optional.
	Journal *metadata.Journal

	Clock func() time.Time
}

func (c *Config) setDefaults() {
	if c.TrashContainer == "" {
		c.TrashContainer = DefaultTrashContainer
	}
	if c.MaxRejections <= 0 {
		c.MaxRejections = DefaultMaxRejections
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Rules == nil {
		c.Rules = map[side.Side]pathnorm.Rule{
			side.Local:  pathnorm.NewFoldNFC(),
			side.Remote: pathnorm.Identity,
		}
	}
}

// Orchestrator owns the store and drives sync cycles. Cycles never overlap.
type Orchestrator struct {
	cfg      Config
	store    *metadata.Store
	detector *conflict.Detector
	resolver *conflict.Resolver
	trash    *trash.Coordinator
	status   *SyncStatus
	retries  *retryTracker

	muSync  sync.Mutex
	state   atomic.Value
	trigger chan struct{}

	muCursor      sync.RWMutex
	cursor        string
	pendingCursor string
	hasPending    bool

	lastReport atomic.Pointer[CycleReport]
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Local == nil || cfg.Remote == nil {
		return nil, errors.New("sync: local and remote collaborators are required")
	}
	cfg.setDefaults()

	store := metadata.NewStore(cfg.Rules)
	detector := conflict.NewDetector(cfg.Rules, side.All...)

	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		detector: detector,
		resolver: conflict.NewResolver(detector, cfg.Clock),
		trash:    trash.NewCoordinator(store, cfg.Clock),
		status:   NewSyncStatus(cfg.MaxRetries),
		retries:  newRetryTracker(),
		trigger:  make(chan struct{}, 1),
	}
	o.state.Store(StateIdle)

	if cfg.Journal != nil {
		if err := o.restore(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) restore() error {
	entries, err := o.cfg.Journal.Load()
	if err != nil {
		return fmt.Errorf("restore journal: %w", err)
	}
	if err := o.store.Load(entries); err != nil {
		return fmt.Errorf("restore journal: %w", err)
	}
	cursor, err := o.cfg.Journal.GetState(metadata.StateCursor)
	if err != nil {
		return fmt.Errorf("restore cursor: %w", err)
	}
	o.cursor = cursor
	slog.Info("sync restored", "entries", len(entries), "cursor", cursor)
	return nil
}

func (o *Orchestrator) Store() *metadata.Store {
	return o.store
}

func (o *Orchestrator) Status() *SyncStatus {
	return o.status
}

func (o *Orchestrator) State() CycleState {
	return o.state.Load().(CycleState)
}

// Cursor is the last committed remote cursor.
func (o *Orchestrator) Cursor() string {
	o.muCursor.RLock()
	defer o.muCursor.RUnlock()
	return o.cursor
}

// LastReport returns the report of the last completed cycle, nil before the first.
func (o *Orchestrator) LastReport() *CycleReport {
	return o.lastReport.Load()
}

func (o *Orchestrator) setState(s CycleState) {
	prev := o.state.Swap(s)
	slog.Debug("sync state", "from", prev, "to", s)
}

// Pull fetches the remote feed since the committed cursor and merges it. The
// new cursor is committed by the next SyncAll.
func (o *Orchestrator) Pull(ctx context.Context) (int, error) {
	if !o.muSync.TryLock() {
		return 0, ErrSyncAlreadyRunning
	}
	defer o.muSync.Unlock()
	defer o.setState(StateIdle)

	o.setState(StatePulling)
	res, err := o.pullRemote(ctx)
	if err != nil {
		return 0, err
	}
	rep := newCycleReport(o.cfg.Clock())
	if err := o.mergeRemote(res, rep); err != nil {
		return 0, err
	}
	return len(res.Changes), nil
}

// Scan reads the local changes and merges them.
func (o *Orchestrator) Scan(ctx context.Context) (int, error) {
	if !o.muSync.TryLock() {
		return 0, ErrSyncAlreadyRunning
	}
	defer o.muSync.Unlock()
	defer o.setState(StateIdle)

	o.setState(StatePulling)
	changes, err := o.scanLocal(ctx)
	if err != nil {
		return 0, err
	}
	rep := newCycleReport(o.cfg.Clock())
	if err := o.merge(side.Local, changes, rep); err != nil {
		return 0, err
	}
	return len(changes), nil
}

// SyncAll detects, resolves and applies against what the store already holds.
func (o *Orchestrator) SyncAll(ctx context.Context) (*CycleReport, error) {
	if !o.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer o.muSync.Unlock()

	rep := newCycleReport(o.cfg.Clock())
	err := o.syncLocked(ctx, rep)
	return o.finish(rep, err)
}

// PullAndSyncAll runs exactly one full cycle.
func (o *Orchestrator) PullAndSyncAll(ctx context.Context) (*CycleReport, error) {
	if !o.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer o.muSync.Unlock()

	rep := newCycleReport(o.cfg.Clock())

	o.setState(StatePulling)
	if err := o.fetch(ctx, rep); err != nil || rep.Aborted {
		return o.finish(rep, err)
	}

	err := o.syncLocked(ctx, rep)
	return o.finish(rep, err)
}

func (o *Orchestrator) finish(rep *CycleReport, err error) (*CycleReport, error) {
	o.setState(StateIdle)
	rep.Duration = o.cfg.Clock().Sub(rep.Started)
	if err == nil {
		err = rep.Err()
	}
	o.lastReport.Store(rep)

	switch {
	case err != nil:
		slog.Error("sync cycle", "report", rep, "error", err)
	case rep.HasChanges() || len(rep.Warnings) > 0:
		slog.Info("sync cycle", "report", rep)
	default:
		slog.Debug("sync cycle", "report", rep)
	}
	return rep, err
}

// fetch pulls the remote and scans the local side concurrently, then merges
// both. Merging is the barrier detection waits on.
func (o *Orchestrator) fetch(ctx context.Context, rep *CycleReport) error {
	var (
		pulled    *side.PullResult
		scanned   []*side.Change
		pullErr   error
		scanErr   error
		g         errgroup.Group
		tFetchBeg = time.Now()
	)

	g.Go(func() error {
		pulled, pullErr = o.pullRemote(ctx)
		return nil
	})
	g.Go(func() error {
		scanned, scanErr = o.scanLocal(ctx)
		return nil
	})
	_ = g.Wait()

	slog.Debug("sync fetch", "took", time.Since(tFetchBeg))

	// remote merges before local. A side that answered is merged even when
	// the other one failed.
	if pullErr == nil {
		if err := o.mergeRemote(pulled, rep); err != nil {
			return err
		}
	}
	if scanErr == nil {
		if err := o.merge(side.Local, scanned, rep); err != nil {
			return err
		}
	}
	return errors.Join(o.fetchFailed(keyPull, pullErr, rep), o.fetchFailed(keyScan, scanErr, rep))
}

// fetchFailed accounts a pull or scan failure. The cycle is aborted and only
// exhausted retries escape.
func (o *Orchestrator) fetchFailed(key string, err error, rep *CycleReport) error {
	if err == nil {
		o.retries.Reset(key)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		rep.Aborted = true
		return err
	}

	rep.Aborted = true
	n := o.retries.Fail(key, failureTransient)
	slog.Warn("sync fetch", "op", key, "attempt", n, "error", err)
	if n >= o.cfg.MaxRetries {
		return fmt.Errorf("%s: %w: %w", key, ErrRetriesExhausted, err)
	}
	rep.warn("%s failed, retrying next cycle: %v", key, err)
	return nil
}

func (o *Orchestrator) pullRemote(ctx context.Context) (*side.PullResult, error) {
	res, err := o.cfg.Remote.Pull(ctx, o.Cursor())
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &side.PullResult{Cursor: o.Cursor()}
	}
	return res, nil
}

func (o *Orchestrator) scanLocal(ctx context.Context) ([]*side.Change, error) {
	return o.cfg.Local.Scan(ctx)
}

func (o *Orchestrator) mergeRemote(res *side.PullResult, rep *CycleReport) error {
	if err := o.merge(side.Remote, res.Changes, rep); err != nil {
		return err
	}
	o.muCursor.Lock()
	o.pendingCursor = res.Cursor
	o.hasPending = true
	o.muCursor.Unlock()
	return nil
}

func (o *Orchestrator) commitCursor() {
	o.muCursor.Lock()
	defer o.muCursor.Unlock()

	if o.hasPending {
		o.cursor = o.pendingCursor
		o.hasPending = false
	}
}

// syncLocked runs detect, resolve and apply. muSync must be held.
func (o *Orchestrator) syncLocked(ctx context.Context, rep *CycleReport) error {
	c := &cycle{report: rep, renames: make(map[string]*conflict.Rename)}

	o.setState(StateDetecting)
	for _, sd := range side.All {
		restored, err := o.trash.Restore(sd)
		if err != nil {
			return err
		}
		for _, e := range restored {
			rep.warn("%s was trashed on %s but holds unsynced entries, restored", e.Path, sd)
		}
	}
	active := o.store.ListActive()
	groups := o.detector.Detect(active)
	slog.Debug("sync detect", "active", len(active), "groups", len(groups))

	if len(groups) == 0 {
		c.resolution = o.resolver.Clean(active)
	} else {
		o.setState(StateResolving)
		c.resolution = o.resolver.Resolve(active)
	}
	rep.Conflicts = len(c.resolution.Groups)
	rep.Renames = len(c.resolution.Renames)
	if err := o.commitUnplaced(c); err != nil {
		return err
	}
	c.plan = o.plan(c)
	rep.Mutations = c.plan.all()

	o.setState(StateApplying)
	if err := o.apply(ctx, c); err != nil {
		return err
	}

	rep.Purged = len(o.trash.Purge())
	o.commitCursor()
	o.persist(rep)
	return nil
}

func (o *Orchestrator) persist(rep *CycleReport) {
	if o.cfg.Journal == nil {
		return
	}
	err := o.cfg.Journal.Save(o.store.All())
	if err == nil {
		err = o.cfg.Journal.SetState(metadata.StateCursor, o.Cursor())
	}
	if err != nil {
		n := o.retries.Fail(keyJournal, failureTransient)
		slog.Error("sync journal", "attempt", n, "error", err)
		if n >= o.cfg.MaxRetries {
			rep.fail(fmt.Errorf("%s: %w: %w", keyJournal, ErrRetriesExhausted, err))
		}
		return
	}
	o.retries.Reset(keyJournal)
}
