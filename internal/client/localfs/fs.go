// Package localfs is the local side backed by a real directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/client/workspace"
	"github.com/openmined/idsync/internal/utils"
)

// FS scans a directory into a change list and applies mutations to it. Ids
// are kept in a json index so they survive restarts. A rename done outside
// the sync is seen as a delete plus a create.
type FS struct {
	mu        sync.Mutex
	root      string
	trashDir  string
	indexPath string
	ignore    *IgnoreList
	ix        *index
	newID     func() string
}

type Option func(*FS)

// WithTrashDir moves trashed entries there instead of deleting them.
func WithTrashDir(dir string) Option {
	return func(f *FS) { f.trashDir = dir }
}

// WithIndexPath persists the path to id index at path.
func WithIndexPath(path string) Option {
	return func(f *FS) { f.indexPath = path }
}

// WithIgnore overrides the ignore list loaded from root.
func WithIgnore(ignore *IgnoreList) Option {
	return func(f *FS) { f.ignore = ignore }
}

var _ side.LocalReplica = (*FS)(nil)

func New(root string, opts ...Option) (*FS, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	f := &FS{root: root, newID: uuid.NewString}
	for _, opt := range opts {
		opt(f)
	}

	if f.ignore == nil {
		f.ignore = NewIgnoreList(root)
		f.ignore.Load()
	}

	if f.indexPath != "" {
		f.ix, err = loadIndex(f.indexPath)
		if err != nil {
			return nil, err
		}
	} else {
		f.ix = newIndex()
	}

	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	return f, nil
}

func (f *FS) Root() string {
	return f.root
}

// Ignored reports whether an absolute path is excluded from the sync.
func (f *FS) Ignored(abs string) bool {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return true
	}
	rel = workspace.NormPath(rel)
	return rel == "." || strings.HasPrefix(rel, "../") || f.ignore.ShouldIgnore(rel)
}

type seenEntry struct {
	kind side.Kind
	info fs.FileInfo
	abs  string
}

// Scan walks the tree and reports what changed since the last scan or apply.
func (f *FS) Scan(ctx context.Context) ([]*side.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tScanBeg := time.Now()
	seen := make(map[string]*seenEntry)
	var order []string

	err := filepath.WalkDir(f.root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs == f.root {
			return nil
		}

		rel, err := filepath.Rel(f.root, abs)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = workspace.NormPath(rel)

		if f.ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var kind side.Kind
		switch {
		case d.IsDir():
			kind = side.KindDir
		case d.Type().IsRegular():
			kind = side.KindFile
		default:
			// symlinks, sockets, devices
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("local scan", "path", rel, "error", err)
			return nil
		}
		seen[rel] = &seenEntry{kind: kind, info: info, abs: abs}
		order = append(order, rel)
		return nil
	})
	if err != nil {
		return nil, side.Transient("scan", err)
	}

	var changes []*side.Change

	// deletions first, children before parents
	var gone []string
	for p, rec := range f.ix.Entries {
		if s, ok := seen[p]; !ok || s.kind != rec.Kind {
			gone = append(gone, p)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(gone)))
	for _, p := range gone {
		rec := f.ix.Entries[p]
		delete(f.ix.Entries, p)
		changes = append(changes, &side.Change{ID: rec.ID, Path: p, Rev: f.ix.nextRev(), Kind: rec.Kind, Deleted: true})
	}

	for _, p := range order {
		s := seen[p]
		rec, known := f.ix.Entries[p]
		if !known {
			rec = &record{ID: f.newID(), Kind: s.kind, Rev: f.ix.nextRev()}
			f.stamp(rec, s)
			f.ix.Entries[p] = rec
			changes = append(changes, f.change(p, rec, s))
			continue
		}
		if f.modified(rec, s) {
			rec.Rev = f.ix.nextRev()
			changes = append(changes, f.change(p, rec, s))
		}
	}

	if len(changes) > 0 {
		if err := f.ix.save(f.indexPath); err != nil {
			return nil, side.Transient("save index", err)
		}
	}

	slog.Debug("local scan", "entries", len(seen), "changes", len(changes), "took", time.Since(tScanBeg))
	return changes, nil
}

func (f *FS) change(p string, rec *record, s *seenEntry) *side.Change {
	return &side.Change{ID: rec.ID, Path: p, Rev: rec.Rev, Kind: rec.Kind, UpdatedAt: s.info.ModTime()}
}

// modified reuses the recorded hash while size and mtime are unchanged.
func (f *FS) modified(rec *record, s *seenEntry) bool {
	if s.kind == side.KindDir {
		return false
	}
	if rec.Size == s.info.Size() && rec.ModTime.Equal(s.info.ModTime()) {
		return false
	}
	prev := rec.Hash
	f.stamp(rec, s)
	return prev == "" || rec.Hash != prev
}

func (f *FS) stamp(rec *record, s *seenEntry) {
	if s.kind == side.KindDir {
		return
	}
	rec.Size = s.info.Size()
	rec.ModTime = s.info.ModTime()
	hash, err := utils.FileHash(s.abs)
	if err != nil {
		slog.Warn("local scan hash", "path", s.abs, "error", err)
		return
	}
	rec.Hash = hash
}

// Apply performs a mutation on the directory and updates the index so the
// next scan does not report it back.
func (f *FS) Apply(ctx context.Context, m *side.Mutation) (*side.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, side.Transient(string(m.Op), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		res *side.Result
		err error
	)
	switch m.Op {
	case side.OpCreate:
		res, err = f.create(m)
	case side.OpRename:
		res, err = f.rename(m)
	case side.OpTrash, side.OpDelete:
		res, err = f.remove(m)
	default:
		return nil, side.Rejected("unsupported op %q", m.Op)
	}
	if err != nil {
		return nil, err
	}

	if err := f.ix.save(f.indexPath); err != nil {
		return nil, side.Transient("save index", err)
	}
	slog.Debug("local apply", "op", m.Op, "path", res.Path, "rev", res.Rev)
	return res, nil
}

func (f *FS) create(m *side.Mutation) (*side.Result, error) {
	if f.ignore.ShouldIgnore(m.Path) {
		return nil, side.Rejected("%s is ignored locally", m.Path)
	}
	abs := toAbs(f.root, m.Path)

	var err error
	if m.Kind == side.KindDir {
		err = os.Mkdir(abs, 0o755)
	} else {
		var file *os.File
		file, err = os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			err = file.Close()
		}
	}
	if err != nil {
		return nil, osError("create "+m.Path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, side.Transient("stat "+m.Path, err)
	}
	rec := &record{ID: f.newID(), Kind: m.Kind, Rev: f.ix.nextRev()}
	f.stamp(rec, &seenEntry{kind: m.Kind, info: info, abs: abs})
	f.ix.Entries[m.Path] = rec
	return &side.Result{ID: rec.ID, Path: m.Path, Rev: rec.Rev}, nil
}

func (f *FS) rename(m *side.Mutation) (*side.Result, error) {
	from, rec, ok := f.ix.byID(m.SideID)
	if !ok {
		return nil, side.Rejected("unknown id %q", m.SideID)
	}
	if m.From != "" && from != m.From {
		return nil, side.Rejected("%s is at %s, not %s", m.SideID, from, m.From)
	}

	src, dst := toAbs(f.root, from), toAbs(f.root, m.Path)
	if dstInfo, err := os.Lstat(dst); err == nil {
		// a case-only rename on a folding file system stats as the source
		srcInfo, serr := os.Lstat(src)
		if serr != nil || !os.SameFile(srcInfo, dstInfo) {
			return nil, side.Rejected("%s already exists", m.Path)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, osError("rename "+from, err)
	}

	f.ix.move(from, m.Path)
	return &side.Result{ID: rec.ID, Path: m.Path, Rev: f.ix.Entries[m.Path].Rev}, nil
}

func (f *FS) remove(m *side.Mutation) (*side.Result, error) {
	p, rec, ok := f.ix.byID(m.SideID)
	if !ok {
		return nil, side.Rejected("unknown id %q", m.SideID)
	}
	abs := toAbs(f.root, p)

	if m.Op == side.OpTrash && f.trashDir != "" {
		to, err := f.trashTarget(path.Base(p))
		if err != nil {
			return nil, err
		}
		if err := os.Rename(abs, to); err != nil {
			return nil, osError("trash "+p, err)
		}
	} else if err := os.RemoveAll(abs); err != nil {
		return nil, osError("delete "+p, err)
	}

	f.ix.drop(p)
	return &side.Result{ID: rec.ID, Path: p, Rev: f.ix.nextRev()}, nil
}

// trashTarget picks a free name for base inside the trash dir.
func (f *FS) trashTarget(base string) (string, error) {
	if err := utils.EnsureDir(f.trashDir); err != nil {
		return "", side.Transient("trash dir", err)
	}
	to := filepath.Join(f.trashDir, base)
	for i := 1; ; i++ {
		if _, err := os.Lstat(to); errors.Is(err, os.ErrNotExist) {
			return to, nil
		}
		to = filepath.Join(f.trashDir, fmt.Sprintf("%s (%d)", base, i))
	}
}

// osError sorts a filesystem error into the side error kinds.
func osError(op string, err error) error {
	switch {
	case errors.Is(err, os.ErrExist), errors.Is(err, os.ErrNotExist):
		return side.Rejected("%s: %v", op, err)
	default:
		return side.Transient(op, err)
	}
}
