package sync

import (
	"errors"

	"github.com/openmined/idsync/internal/client/metadata"
	"github.com/openmined/idsync/internal/client/side"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrRetriesExhausted   = errors.New("retries exhausted")
)

type failureKind int

const (
	failureTransient failureKind = iota
	failureRejected
	failureFatal
)

func (k failureKind) String() string {
	switch k {
	case failureRejected:
		return "rejected"
	case failureFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// classify sorts an error from a collaborator. Anything untyped is treated
// as an I/O failure and retried.
func classify(err error) failureKind {
	switch {
	case errors.Is(err, metadata.ErrIdentityCollision):
		return failureFatal
	case side.IsRejected(err):
		return failureRejected
	default:
		return failureTransient
	}
}
