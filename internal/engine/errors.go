package engine

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrInvalidArgument is returned when an argument is invalid (e.g. negative topK, malformed filter).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is returned when the engine cannot accept the operation right now
	// (journal failure, rate limit, memory limit, query slots exhausted). Nothing was applied.
	ErrUnavailable = errors.New("unavailable")

	// ErrNotFound is returned when a requested ID is not found.
	ErrNotFound = errors.New("not found")

	// ErrEmptyID is reported for records without an id.
	ErrEmptyID = errors.New("record id must not be empty")
)
