package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// ErrInvalidDimension is returned by New for a non-positive dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNodeNotFound is returned when deleting a handle that is not in the graph.
type ErrNodeNotFound struct {
	ID uint32
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node %d not found", e.ID)
}

// ErrNodeExists is returned when inserting a handle that is already in the graph.
type ErrNodeExists struct {
	ID uint32
}

func (e *ErrNodeExists) Error() string {
	return fmt.Sprintf("node %d already exists", e.ID)
}

// SearchResult is a single graph hit. Distance is lower-is-better.
type SearchResult struct {
	ID       uint32
	Distance float64
}

// SearchOptions tunes a single search.
type SearchOptions struct {
	// EFSearch overrides the configured beam width. The effective beam is never below k.
	EFSearch int

	// Allow restricts results to handles for which it returns true.
	// Navigation still passes through disallowed nodes.
	Allow func(id uint32) bool
}

// SearchResults is the outcome of a search.
type SearchResults struct {
	Items []SearchResult

	// Partial is set when the context expired during traversal.
	Partial bool

	// Visited counts the distance evaluations performed.
	Visited int
}

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level          int
	Nodes          int
	Connections    int
	AvgConnections int
}

// Stats describes the graph.
type Stats struct {
	Nodes      int
	MaxLevel   int
	EntryPoint uint32
	Segments   int
	M          int
	M0         int
	EF         int
	Levels     []LevelStats
}
