// Package distance provides vector similarity functions and the metric enumeration.
//
// # Supported Metrics
//
//   - MetricCosine ("cosine"): cosine similarity, higher is closer
//   - MetricEuclidean ("euclidean"): L2 distance, lower is closer
//   - MetricDotProduct ("dot-product"): inner product, higher is closer
//
// Scores are accumulated in float64. Zero-norm vectors have cosine similarity 0.
// NaN and Inf inputs propagate to the output.
//
// # Usage
//
//	sim := distance.Cosine(a, b)
//	d := distance.Euclidean(a, b)
//	score := distance.MetricDotProduct.Score(a, b)
package distance
