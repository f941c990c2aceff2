// Package replica provides an in-memory tree that behaves like one side of a
// sync: it records every change in an ordered feed and applies mutations.
package replica

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/idsync/internal/client/pathnorm"
	"github.com/openmined/idsync/internal/client/side"
)

type node struct {
	id   string
	path string
	kind side.Kind
	rev  int64
}

// ApplyHook runs before every mutation. A non-nil error is returned from
// Apply and the mutation is not performed.
type ApplyHook func(m *side.Mutation) error

type Option func(*Memory)

// WithRule sets the comparison rule enforced on paths.
func WithRule(rule pathnorm.Rule) Option {
	return func(m *Memory) { m.rule = rule }
}

// WithTrashDir keeps trashed entries in a visible top-level container.
// Without it trashed entries leave the tree and are reported deleted.
func WithTrashDir(name string) Option {
	return func(m *Memory) { m.trashDir = name }
}

// WithIDs replaces the uuid generator of side ids.
func WithIDs(next func() string) Option {
	return func(m *Memory) { m.newID = next }
}

func WithApplyHook(hook ApplyHook) Option {
	return func(m *Memory) { m.hook = hook }
}

// Memory is a thread safe in-memory replica. It implements side.RemoteReplica and side.LocalReplica.
type Memory struct {
	mu       sync.Mutex
	name     string
	rule     pathnorm.Rule
	trashDir string
	newID    func() string
	hook     ApplyHook

	nodes   map[string]*node  // id -> node
	byKey   map[string]string // rule key -> id
	trashed []string          // paths removed through a hidden trash
	feed    []*side.Change
	scanned int
	rev     int64
}

var (
	_ side.RemoteReplica = (*Memory)(nil)
	_ side.LocalReplica  = (*Memory)(nil)
)

func NewMemory(name string, opts ...Option) *Memory {
	m := &Memory{
		name:  name,
		rule:  pathnorm.Identity,
		newID: uuid.NewString,
		nodes: make(map[string]*node),
		byKey: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.trashDir != "" {
		// the container itself is never part of the feed
		m.insert(&node{id: "trash-" + m.name, path: m.trashDir, kind: side.KindDir})
	}
	return m
}

func (m *Memory) Name() string {
	return m.name
}

// SequentialIDs returns a generator of ids prefix-1, prefix-2, ...
func SequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

// Pull returns the feed after cursor. An empty cursor starts from the beginning.
func (m *Memory) Pull(ctx context.Context, cursor string) (*side.PullResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, side.Transient("pull", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(m.feed) {
			return nil, side.Rejected("invalid cursor %q", cursor)
		}
		start = n
	}
	return &side.PullResult{
		Changes: cloneChanges(m.feed[start:]),
		Cursor:  strconv.Itoa(len(m.feed)),
	}, nil
}

// Scan returns the changes recorded since the previous scan.
func (m *Memory) Scan(ctx context.Context) ([]*side.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, side.Transient("scan", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changes := cloneChanges(m.feed[m.scanned:])
	m.scanned = len(m.feed)
	return changes, nil
}

func (m *Memory) Apply(ctx context.Context, mut *side.Mutation) (*side.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, side.Transient(string(mut.Op), err)
	}
	if m.hook != nil {
		if err := m.hook(mut); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch mut.Op {
	case side.OpCreate:
		n, err := m.create(mut.Path, mut.Kind)
		if err != nil {
			return nil, err
		}
		return &side.Result{ID: n.id, Path: n.path, Rev: n.rev}, nil

	case side.OpRename:
		n, err := m.lookupMutation(mut)
		if err != nil {
			return nil, err
		}
		if mut.From != "" && n.path != mut.From {
			return nil, side.Rejected("%s is at %s, not %s", n.id, n.path, mut.From)
		}
		if err := m.rename(n, mut.Path); err != nil {
			return nil, err
		}
		return &side.Result{ID: n.id, Path: n.path, Rev: n.rev}, nil

	case side.OpTrash:
		n, err := m.lookupMutation(mut)
		if err != nil {
			return nil, err
		}
		if err := m.trash(n); err != nil {
			return nil, err
		}
		return &side.Result{ID: n.id, Path: n.path, Rev: n.rev}, nil

	case side.OpDelete:
		n, err := m.lookupMutation(mut)
		if err != nil {
			return nil, err
		}
		rev := m.remove(n)
		return &side.Result{ID: n.id, Path: n.path, Rev: rev}, nil
	}
	return nil, side.Rejected("unsupported op %q", mut.Op)
}

func (m *Memory) lookupMutation(mut *side.Mutation) (*node, error) {
	if n, ok := m.nodes[mut.SideID]; ok {
		return n, nil
	}
	return nil, side.Rejected("unknown id %q", mut.SideID)
}

// Mkdir creates a directory as a user would.
func (m *Memory) Mkdir(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.create(p, side.KindDir)
	if err != nil {
		return "", err
	}
	return n.id, nil
}

// WriteFile creates an empty file as a user would.
func (m *Memory) WriteFile(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.create(p, side.KindFile)
	if err != nil {
		return "", err
	}
	return n.id, nil
}

// Rename moves an entry as a user would.
func (m *Memory) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.lookupPath(from)
	if !ok {
		return fmt.Errorf("%s: no such entry %s", m.name, from)
	}
	return m.rename(n, to)
}

// Trash soft-deletes an entry as a user would.
func (m *Memory) Trash(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.lookupPath(p)
	if !ok {
		return fmt.Errorf("%s: no such entry %s", m.name, p)
	}
	return m.trash(n)
}

// Remove deletes an entry for good.
func (m *Memory) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.lookupPath(p)
	if !ok {
		return fmt.Errorf("%s: no such entry %s", m.name, p)
	}
	m.remove(n)
	return nil
}

// Lookup returns the side id held at p.
func (m *Memory) Lookup(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.lookupPath(p)
	if !ok {
		return "", false
	}
	return n.id, true
}

// Tree lists the live entries, directories with a trailing slash. The trash
// container is listed but not its content.
func (m *Memory) Tree() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, n := range m.nodes {
		if m.inTrash(n.path) {
			continue
		}
		out = append(out, display(n))
	}
	sort.Strings(out)
	return out
}

// TrashTree lists what was trashed.
func (m *Memory) TrashTree() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	if m.trashDir == "" {
		out = append(out, m.trashed...)
	} else {
		for _, n := range m.nodes {
			if m.inTrash(n.path) {
				out = append(out, strings.TrimPrefix(display(n), m.trashDir+"/"))
			}
		}
	}
	sort.Strings(out)
	return out
}

// Changes returns how many changes the feed holds.
func (m *Memory) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feed)
}

func display(n *node) string {
	if n.kind == side.KindDir {
		return n.path + "/"
	}
	return n.path
}

func (m *Memory) inTrash(p string) bool {
	return m.trashDir != "" && strings.HasPrefix(p, m.trashDir+"/")
}

func (m *Memory) lookupPath(p string) (*node, bool) {
	id, ok := m.byKey[m.rule.Key(p)]
	if !ok {
		return nil, false
	}
	return m.nodes[id], true
}

func (m *Memory) insert(n *node) {
	m.nodes[n.id] = n
	m.byKey[m.rule.Key(n.path)] = n.id
}

func (m *Memory) record(n *node, deleted bool) {
	m.rev++
	n.rev = m.rev
	m.feed = append(m.feed, &side.Change{
		ID:        n.id,
		Path:      n.path,
		Rev:       n.rev,
		Kind:      n.kind,
		Deleted:   deleted,
		UpdatedAt: time.Now().UTC(),
	})
}

func (m *Memory) checkParent(p string) error {
	dir := path.Dir(p)
	if dir == "." {
		return nil
	}
	parent, ok := m.lookupPath(dir)
	if !ok || parent.kind != side.KindDir {
		return side.Rejected("%s: parent of %s does not exist", m.name, p)
	}
	return nil
}

func (m *Memory) checkFree(p string, self string) error {
	if id, ok := m.byKey[m.rule.Key(p)]; ok && id != self {
		return side.Rejected("%s: %s already exists", m.name, p)
	}
	return nil
}

func validPath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || path.Clean(p) != p {
		return side.Rejected("invalid path %q", p)
	}
	return nil
}

func (m *Memory) create(p string, kind side.Kind) (*node, error) {
	if err := validPath(p); err != nil {
		return nil, err
	}
	if err := m.checkParent(p); err != nil {
		return nil, err
	}
	if err := m.checkFree(p, ""); err != nil {
		return nil, err
	}
	n := &node{id: m.newID(), path: p, kind: kind}
	m.insert(n)
	m.record(n, false)
	return n, nil
}

// subtree returns n and its descendants, shallowest first.
func (m *Memory) subtree(n *node) []*node {
	out := []*node{n}
	if n.kind != side.KindDir {
		return out
	}
	for _, x := range m.nodes {
		if strings.HasPrefix(x.path, n.path+"/") {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func (m *Memory) move(n *node, to string) {
	from := n.path
	for _, x := range m.subtree(n) {
		delete(m.byKey, m.rule.Key(x.path))
		x.path = to + strings.TrimPrefix(x.path, from)
		m.insert(x)
		m.record(x, m.inTrash(x.path))
	}
}

func (m *Memory) rename(n *node, to string) error {
	if err := validPath(to); err != nil {
		return err
	}
	if m.trashDir != "" && (to == m.trashDir || m.inTrash(n.path) || m.inTrash(to)) {
		return side.Rejected("%s: cannot rename through the trash", m.name)
	}
	if n.path == to {
		return nil
	}
	if strings.HasPrefix(to, n.path+"/") {
		return side.Rejected("%s: cannot move %s into itself", m.name, n.path)
	}
	if err := m.checkParent(to); err != nil {
		return err
	}
	if err := m.checkFree(to, n.id); err != nil {
		return err
	}
	m.move(n, to)
	return nil
}

func (m *Memory) trash(n *node) error {
	if m.trashDir == "" {
		m.trashed = append(m.trashed, display(n))
		m.remove(n)
		return nil
	}
	if m.inTrash(n.path) || n.path == m.trashDir {
		return side.Rejected("%s: %s is already trashed", m.name, n.path)
	}

	base := path.Base(n.path)
	to := m.trashDir + "/" + base
	for i := 1; m.checkFree(to, n.id) != nil; i++ {
		to = fmt.Sprintf("%s/%s (%d)", m.trashDir, base, i)
	}
	m.move(n, to)
	return nil
}

// remove drops n and its descendants and returns the revision of n's deletion.
func (m *Memory) remove(n *node) int64 {
	sub := m.subtree(n)
	// children first, like a recursive delete
	for i := len(sub) - 1; i >= 0; i-- {
		x := sub[i]
		delete(m.nodes, x.id)
		delete(m.byKey, m.rule.Key(x.path))
		m.record(x, true)
	}
	return n.rev
}

func cloneChanges(in []*side.Change) []*side.Change {
	out := make([]*side.Change, len(in))
	for i, c := range in {
		cp := *c
		out[i] = &cp
	}
	return out
}
