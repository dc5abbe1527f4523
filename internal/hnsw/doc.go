// Package hnsw implements Hierarchical Navigable Small World graphs.
//
// HNSW provides approximate nearest neighbor search with high recall and
// sub-linear query time.
//
// # Features
//
//   - Node slots addressed by integer handles in fixed-size segments
//   - Lock-free search path (copy-on-write neighbor lists)
//   - Single writer; deletes repair in-neighbors instead of tombstoning
//   - Seeded level generation for reproducible graphs
//   - Allow predicates for filtered search
//
// # Parameters
//
//   - M: Max connections per node on upper layers (default: 16), 2*M on layer 0
//   - EF: Construction queue size (default: 200)
//   - EFSearch: Search queue size (default: 64, never below k)
//
// # Memory
//
// Handles are never reused, so node segments for removed handles stay
// allocated. The segment table costs one pointer (8 bytes) per handle ever
// inserted, up to 2^32 handles, until the graph is rebuilt from live records.
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
