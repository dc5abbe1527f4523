// Package testutil provides testing utilities for vectorize.
//
// This package is intended for use in tests only. It provides helpers for
// generating random vectors, computing exact nearest neighbors, and verifying
// search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(1000, 64)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.ExactTopK(query, vecs, k, distance.MetricCosine)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
