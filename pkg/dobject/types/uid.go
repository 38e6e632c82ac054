package types

import "github.com/google/uuid"

// UID is a stable random identifier, used e.g. to derive a default peer
// name when none is configured.
type UID string

// NewUID generates a fresh random identifier.
func NewUID() UID {
	return UID(uuid.NewString())
}
