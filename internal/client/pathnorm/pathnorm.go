// Package pathnorm holds the per-side path comparison rules used for
// collision detection. Keys produced here are never stored as paths.
package pathnorm

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const defaultCacheSize = 8192

// Rule maps a path to the key under which a side considers two paths equal.
type Rule interface {
	Name() string
	Key(path string) string
}

type identity struct{}

// Identity compares paths byte for byte.
var Identity Rule = identity{}

func (identity) Name() string           { return "identity" }
func (identity) Key(path string) string { return path }

type foldNFC struct {
	mu    sync.Mutex
	caser cases.Caser
	cache *lru.Cache[string, string]
}

// NewFoldNFC returns a rule that treats paths as equal when they match after
// Unicode NFC normalization and full case folding, the way case-insensitive,
// normalizing filesystems do.
func NewFoldNFC() Rule {
	cache, _ := lru.New[string, string](defaultCacheSize)
	return &foldNFC{
		caser: cases.Fold(),
		cache: cache,
	}
}

func (r *foldNFC) Name() string { return "fold" }

func (r *foldNFC) Key(path string) string {
	if key, ok := r.cache.Get(path); ok {
		return key
	}

	// a Caser keeps state between calls
	r.mu.Lock()
	key := norm.NFC.String(r.caser.String(norm.NFC.String(path)))
	r.mu.Unlock()

	r.cache.Add(path, key)
	return key
}

// Parse resolves a rule by its configuration name.
func Parse(name string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "identity", "exact":
		return Identity, nil
	case "fold", "casefold", "nfc-fold":
		return NewFoldNFC(), nil
	default:
		return nil, fmt.Errorf("unknown path rule %q", name)
	}
}
