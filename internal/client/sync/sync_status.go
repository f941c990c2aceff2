package sync

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const syncEventBufferSize = 16

// SyncState is the state of the last sync attempt of an entry.
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
)

// ConflictState tells whether an entry needs user attention.
type ConflictState string

const (
	ConflictStateNone       ConflictState = "none"
	ConflictStateConflicted ConflictState = "conflicted"
	ConflictStateRejected   ConflictState = "rejected"
)

// PathStatus is the tracked status of one path.
type PathStatus struct {
	SyncState     SyncState
	ConflictState ConflictState
	Error         error
	ErrorCount    int
	LastUpdated   time.Time
}

func (s *PathStatus) String() string {
	return fmt.Sprintf("SyncState: %s, ConflictState: %s, Error: %v, ErrorCount: %d", s.SyncState, s.ConflictState, s.Error, s.ErrorCount)
}

type SyncStatusEvent struct {
	Path   string
	Status PathStatus
}

// SyncStatus tracks the paths that are syncing, failing or need attention.
// Clean paths are dropped once completed.
type SyncStatus struct {
	paths map[string]*PathStatus
	mu    sync.RWMutex

	eventSubs []chan *SyncStatusEvent
	eventMu   sync.RWMutex

	maxErrors int
}

func NewSyncStatus(maxErrors int) *SyncStatus {
	return &SyncStatus{
		paths:     make(map[string]*PathStatus),
		maxErrors: maxErrors,
	}
}

func (s *SyncStatus) Subscribe() <-chan *SyncStatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncStatusEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

func (s *SyncStatus) Unsubscribe(ch <-chan *SyncStatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcast(p string, status *PathStatus) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	event := &SyncStatusEvent{Path: p, Status: *status}
	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// subscriber is behind, drop
		}
	}
}

func (s *SyncStatus) getOrCreate(p string) *PathStatus {
	if status, ok := s.paths[p]; ok {
		return status
	}
	status := &PathStatus{
		SyncState:     SyncStatePending,
		ConflictState: ConflictStateNone,
		LastUpdated:   time.Now(),
	}
	s.paths[p] = status
	return status
}

func (s *SyncStatus) update(p string, fn func(status *PathStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.getOrCreate(p)
	fn(status)
	status.LastUpdated = time.Now()
	s.broadcast(p, status)

	if status.SyncState == SyncStateCompleted && status.ConflictState == ConflictStateNone {
		delete(s.paths, p)
	}
}

// SetSyncing keeps the conflict state of the path.
func (s *SyncStatus) SetSyncing(p string) {
	s.update(p, func(status *PathStatus) {
		status.SyncState = SyncStateSyncing
		status.Error = nil
	})
}

func (s *SyncStatus) SetCompleted(p string) {
	s.update(p, func(status *PathStatus) {
		status.SyncState = SyncStateCompleted
		status.Error = nil
		status.ErrorCount = 0
		if status.ConflictState == ConflictStateRejected {
			status.ConflictState = ConflictStateNone
		}
	})
}

func (s *SyncStatus) SetError(p string, err error) {
	s.update(p, func(status *PathStatus) {
		status.SyncState = SyncStateError
		status.Error = err
		status.ErrorCount++
		if s.maxErrors > 0 && status.ErrorCount == s.maxErrors {
			slog.Error("sync", "status", "Error", "path", p, "count", status.ErrorCount, "error", "retry limit reached")
		}
	})
}

// SetConflicted marks a path that was renamed to resolve an identity conflict.
func (s *SyncStatus) SetConflicted(p string) {
	s.update(p, func(status *PathStatus) {
		status.SyncState = SyncStateCompleted
		status.ConflictState = ConflictStateConflicted
		status.Error = nil
	})
}

// SetRejected marks a path whose mutation keeps being refused by a side.
func (s *SyncStatus) SetRejected(p string, err error) {
	s.update(p, func(status *PathStatus) {
		status.SyncState = SyncStateError
		status.ConflictState = ConflictStateRejected
		status.Error = err
		status.ErrorCount++
	})
}

// Rename moves the tracked status along with a renamed path.
func (s *SyncStatus) Rename(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.paths[from]; ok {
		delete(s.paths, from)
		s.paths[to] = status
	}
}

func (s *SyncStatus) Get(p string) (PathStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.paths[p]
	if !ok {
		return PathStatus{}, false
	}
	return *status, true
}

func (s *SyncStatus) count(fn func(*PathStatus) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, status := range s.paths {
		if fn(status) {
			n++
		}
	}
	return n
}

func (s *SyncStatus) ConflictedCount() int {
	return s.count(func(st *PathStatus) bool { return st.ConflictState == ConflictStateConflicted })
}

func (s *SyncStatus) RejectedCount() int {
	return s.count(func(st *PathStatus) bool { return st.ConflictState == ConflictStateRejected })
}

func (s *SyncStatus) ErrorCount() int {
	return s.count(func(st *PathStatus) bool { return st.SyncState == SyncStateError })
}

// All returns a copy of every tracked status.
func (s *SyncStatus) All() map[string]PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PathStatus, len(s.paths))
	for p, status := range s.paths {
		out[p] = *status
	}
	return out
}

// Cleanup forgets conflicted paths not touched for maxAge.
func (s *SyncStatus) Cleanup(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for p, status := range s.paths {
		if status.ConflictState == ConflictStateConflicted && status.LastUpdated.Before(cutoff) {
			delete(s.paths, p)
		}
	}
}

func (s *SyncStatus) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = nil
}
