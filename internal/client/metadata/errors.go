package metadata

import (
	"errors"
	"fmt"

	"github.com/openmined/idsync/internal/client/side"
)

var ErrIdentityCollision = errors.New("identity collision")

// IdentityCollisionError means one identifier was mapped to semantically
// different entries. It signals a caller bug and is never retried.
type IdentityCollisionError struct {
	ID       string
	Side     side.Side
	SideID   string
	Existing string
	Reason   string
}

func (e *IdentityCollisionError) Error() string {
	if e.SideID != "" {
		return fmt.Sprintf("identity collision: %s id %s maps to %s and %s: %s", e.Side, e.SideID, e.Existing, e.ID, e.Reason)
	}
	return fmt.Sprintf("identity collision: entry %s: %s", e.ID, e.Reason)
}

func (e *IdentityCollisionError) Is(target error) bool {
	return target == ErrIdentityCollision
}
