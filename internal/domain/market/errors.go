package market

import "errors"

var (
	// ErrInvalidTimeframe is returned for timeframe tokens outside the supported table.
	ErrInvalidTimeframe = errors.New("unsupported timeframe")
	// ErrInvalidTimeRange is returned for naive timestamps or ranges with end <= start.
	ErrInvalidTimeRange = errors.New("invalid time range")
	// ErrInvalidFeedType is returned for unknown live subscription types.
	ErrInvalidFeedType = errors.New("unsupported subscription type")
)
