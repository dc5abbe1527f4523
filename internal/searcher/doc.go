// Package searcher provides pooled scratch state for graph searches: binary
// heaps keyed on (distance, handle) and a resettable visited set.
package searcher
