package distance

import (
	"fmt"
	"math"
	"strings"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Euclidean calculates the L2 distance between two vectors.
func Euclidean(a, b []float32) float64 {
	return math.Sqrt(SquaredL2(a, b))
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine calculates the cosine similarity of two vectors.
// It is defined as 0 when either vector has zero norm.
func Cosine(a, b []float32) float64 {
	return CosineWithNorms(a, b, Norm(a), Norm(b))
}

// CosineWithNorms calculates the cosine similarity using precomputed norms.
func CosineWithNorms(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	return Dot(a, b) / (normA * normB)
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDotProduct
)

// Metric names as accepted by ParseMetric and emitted by String.
const (
	NameCosine     = "cosine"
	NameEuclidean  = "euclidean"
	NameDotProduct = "dot-product"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricCosine, MetricEuclidean, MetricDotProduct}

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return NameCosine
	case MetricEuclidean:
		return NameEuclidean
	case MetricDotProduct:
		return NameDotProduct
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m >= MetricCosine && m <= MetricDotProduct
}

// ErrUnknownMetric is returned by ParseMetric for unsupported metric names.
type ErrUnknownMetric struct {
	Name string
}

func (e *ErrUnknownMetric) Error() string {
	return fmt.Sprintf("unknown distance metric %q", e.Name)
}

// ParseMetric parses a metric name. "l2" and "dot" are accepted as aliases.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameCosine:
		return MetricCosine, nil
	case NameEuclidean, "l2":
		return MetricEuclidean, nil
	case NameDotProduct, "dot", "dotproduct", "dot_product":
		return MetricDotProduct, nil
	default:
		return 0, &ErrUnknownMetric{Name: name}
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid metric %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// HigherIsBetter reports whether larger scores mean closer vectors.
// True for cosine and dot-product (similarities), false for euclidean (distance).
func (m Metric) HigherIsBetter() bool {
	return m != MetricEuclidean
}

// Score returns the caller-facing score of b relative to a.
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case MetricEuclidean:
		return Euclidean(a, b)
	case MetricDotProduct:
		return Dot(a, b)
	default:
		return Cosine(a, b)
	}
}

// ScoreWithNorms is Score with precomputed norms (only used by cosine).
func (m Metric) ScoreWithNorms(a, b []float32, normA, normB float64) float64 {
	if m == MetricCosine {
		return CosineWithNorms(a, b, normA, normB)
	}
	return m.Score(a, b)
}

// Distance converts a score into a lower-is-better ordering key.
func (m Metric) Distance(score float64) float64 {
	switch m {
	case MetricEuclidean:
		return score
	case MetricDotProduct:
		return -score
	default:
		return 1 - score
	}
}

// Better reports whether score x ranks strictly ahead of score y.
// NaN never ranks ahead of a number.
func (m Metric) Better(x, y float64) bool {
	xNaN, yNaN := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xNaN:
		return false
	case yNaN:
		return true
	case m.HigherIsBetter():
		return x > y
	default:
		return x < y
	}
}
