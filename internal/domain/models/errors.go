package models

import "errors"

var (
	// ErrUpstreamData marks malformed source rows. It aborts the affected run.
	ErrUpstreamData = errors.New("upstream data error")
	// ErrNotFound is returned by reads that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrIndexBusy means another worker holds the rebuild lock of the index.
	ErrIndexBusy = errors.New("index rebuild already running")
	// ErrNoTradingDates means the price store holds no dates in the requested range.
	ErrNoTradingDates = errors.New("no trading dates")
	// ErrInvalidRequest marks caller mistakes such as malformed dates.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidConfig means engine parameters were rejected at startup.
	ErrInvalidConfig = errors.New("invalid config")
)
