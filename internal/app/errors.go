package service

import "errors"

// Sentinel kinds for batch errors.
var (
	// ErrBatchAborted marks a failure no later competitor could recover from:
	// the shared configuration could not be patched or restored, the
	// simulator image did not build, or the batch was cancelled.
	ErrBatchAborted = errors.New("batch aborted")

	// ErrNoCompetitors is returned when there is nothing to record.
	ErrNoCompetitors = errors.New("no competitors to record")

	// ErrControllerCollision is returned when two competitors would share a
	// controller directory.
	ErrControllerCollision = errors.New("competitors share a controller name")
)
