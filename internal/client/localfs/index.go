package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/utils"
)

// record is what the index remembers about one local path.
type record struct {
	ID      string    `json:"id"`
	Kind    side.Kind `json:"kind"`
	Rev     int64     `json:"rev"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
	Hash    string    `json:"hash,omitempty"`
}

// index maps local relative paths to stable side ids across restarts.
type index struct {
	Rev     int64              `json:"rev"`
	Entries map[string]*record `json:"entries"`
}

func newIndex() *index {
	return &index{Entries: make(map[string]*record)}
}

func loadIndex(path string) (*index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	ix := newIndex()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	if ix.Entries == nil {
		ix.Entries = make(map[string]*record)
	}
	return ix, nil
}

// save writes the index through a temp file so a crash never leaves it torn.
func (ix *index) save(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.Marshal(ix)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, path)
}

func (ix *index) nextRev() int64 {
	ix.Rev++
	return ix.Rev
}

func (ix *index) byID(id string) (string, *record, bool) {
	for p, rec := range ix.Entries {
		if rec.ID == id {
			return p, rec, true
		}
	}
	return "", nil, false
}

// subtree returns p and the recorded paths under it.
func (ix *index) subtree(p string) []string {
	out := []string{p}
	prefix := p + "/"
	for q := range ix.Entries {
		if strings.HasPrefix(q, prefix) {
			out = append(out, q)
		}
	}
	return out
}

// move rebases p and its subtree onto to, bumping each revision.
func (ix *index) move(p, to string) {
	for _, q := range ix.subtree(p) {
		rec := ix.Entries[q]
		delete(ix.Entries, q)
		rec.Rev = ix.nextRev()
		ix.Entries[to+strings.TrimPrefix(q, p)] = rec
	}
}

func (ix *index) drop(p string) {
	for _, q := range ix.subtree(p) {
		delete(ix.Entries, q)
	}
}

func toAbs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
