// Package engine ties the record store, the HNSW graph, the metadata index and
// the write-ahead journal into one vector index.
//
// # Mutations
//
// The coordinator hashes record ids onto striped mutexes. A call locks its
// stripes in ascending order, journals the batch, waits for the journal
// acknowledgement and only then applies it. Partitions of a batch that fall on
// different stripes are applied in parallel.
//
// # Queries
//
// The executor retrieves candidates from the graph (or scores a small
// pre-filtered set directly), resolves them against the store, re-scores them
// exactly and returns the best TopK distinct ids.
//
// # Recovery
//
// Recover loads an optional snapshot and replays every journal entry after the
// snapshot's LSN. It must run once before the engine serves traffic.
package engine
