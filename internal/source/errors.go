package source

import "errors"

var (
	// ErrReleased is returned when a candidate set is used or released
	// after it was already released.
	ErrReleased = errors.New("candidate set already released")

	// ErrUnknownIdentity is the cause attached to a vanished load.
	ErrUnknownIdentity = errors.New("unknown document identity")

	// ErrForeignCandidates is returned when a candidate set produced by a
	// different collection is passed to Search.
	ErrForeignCandidates = errors.New("candidate set belongs to another collection")
)
