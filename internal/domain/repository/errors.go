package repository

import "errors"

var (
	// ErrSeriesNotFound means the exchange or symbol has no backing table.
	ErrSeriesNotFound = errors.New("series not found")
	// ErrStorage wraps any other failure from a storage backend.
	ErrStorage = errors.New("storage error")
)
