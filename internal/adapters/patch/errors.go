package patch

import "errors"

// Sentinel kinds for config patch errors. Every error returned by this
// package wraps ErrPatch.
var (
	ErrPatch             = errors.New("config patch failed")
	ErrSubstringNotFound = errors.New("original text not found")
	ErrRestoreMismatch   = errors.New("restored content differs from original")
)
