package model

import "errors"

// Sentinel kinds for domain value errors.
var (
	ErrUnknownMetric     = errors.New("unknown metric kind")
	ErrInvalidCompetitor = errors.New("invalid competitor line")
	ErrMalformedRecord   = errors.New("malformed performance record")
)
