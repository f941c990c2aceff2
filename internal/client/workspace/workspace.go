package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/idsync/internal/utils"
)

const (
	syncDir     = "sync"
	logsDir     = "logs"
	metadataDir = ".data"
	trashDir    = "trash"
	lockFile    = "idsync.lock"
	journalFile = "journal.db"
	indexFile   = "local-index.json"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the on-disk layout of one client:
//
//	<root>/sync            the synchronized tree
//	<root>/logs            log files
//	<root>/.data           journal, local index, lock
//	<root>/.data/trash     local trash
type Workspace struct {
	Root        string
	SyncDir     string
	LogsDir     string
	MetadataDir string
	TrashDir    string
	JournalPath string
	IndexPath   string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	dataDir := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		SyncDir:     filepath.Join(root, syncDir),
		LogsDir:     filepath.Join(root, logsDir),
		MetadataDir: dataDir,
		TrashDir:    filepath.Join(dataDir, trashDir),
		JournalPath: filepath.Join(dataDir, journalFile),
		IndexPath:   filepath.Join(dataDir, indexFile),
		flock:       flock.New(filepath.Join(dataDir, lockFile)),
	}, nil
}

// Lock takes the single-instance lock under .data.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates its directories.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	for _, dir := range []string{w.SyncDir, w.LogsDir, w.MetadataDir, w.TrashDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	slog.Info("workspace", "root", w.Root, "sync", w.SyncDir)
	return nil
}

// RelPath returns the slash-separated path of abs relative to the sync dir.
func (w *Workspace) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(w.SyncDir, abs)
	if err != nil {
		return "", err
	}
	rel = NormPath(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, w.SyncDir)
	}
	return rel, nil
}

// AbsPath maps a slash-separated relative path into the sync dir.
func (w *Workspace) AbsPath(rel string) string {
	return filepath.Join(w.SyncDir, filepath.FromSlash(rel))
}

// NormPath cleans a path, converts backslashes to slashes and trims leading slashes.
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}
