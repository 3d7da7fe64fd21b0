package models

import "errors"

// Sentinel errors shared across layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownMetric = errors.New("unknown metric")
	ErrInvalidInput  = errors.New("invalid input")
)
