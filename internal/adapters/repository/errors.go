package repository

import "errors"

// Sentinel kinds for result store errors.
var (
	ErrNotFound = errors.New("competitor not found")
	ErrStore    = errors.New("result store failed")
)
