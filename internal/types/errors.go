package types

import "errors"

var (
	// ErrSessionNotFound is returned when a session id has no row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRetrievalTimeout reports that the memory fan-out exceeded its
	// deadline. Surfaced to the caller as a distinct condition, never
	// silently truncated.
	ErrRetrievalTimeout = errors.New("memory retrieval timed out")

	// ErrGenerationTimeout reports that the generation phase exceeded its
	// wall-clock deadline.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrLearningRecordNotFound is returned when no knowledge unit matches
	// an identifier.
	ErrLearningRecordNotFound = errors.New("learning record not found")
)
