package sync

import "sync"

type failureCount struct {
	rejected  int
	transient int
}

// retryTracker counts consecutive failures per mutation key across cycles.
// A success clears the key.
type retryTracker struct {
	mu       sync.Mutex
	failures map[string]*failureCount
}

func newRetryTracker() *retryTracker {
	return &retryTracker{failures: make(map[string]*failureCount)}
}

// Fail records a failure and returns the consecutive count for its kind.
func (t *retryTracker) Fail(key string, kind failureKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	fc, ok := t.failures[key]
	if !ok {
		fc = &failureCount{}
		t.failures[key] = fc
	}
	if kind == failureRejected {
		fc.rejected++
		fc.transient = 0
		return fc.rejected
	}
	fc.transient++
	fc.rejected = 0
	return fc.transient
}

func (t *retryTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

func (t *retryTracker) Count(key string) (rejected, transient int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fc, ok := t.failures[key]; ok {
		return fc.rejected, fc.transient
	}
	return 0, 0
}

func (t *retryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures)
}
