package vectorize

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/model"
)

// Metric names accepted by Config.Metric.
const (
	MetricCosine     = distance.NameCosine
	MetricEuclidean  = distance.NameEuclidean
	MetricDotProduct = distance.NameDotProduct
)

// Config describes the shape of an index. It is fixed for the index lifetime.
type Config struct {
	// Name identifies the index in logs, Describe and snapshots.
	Name string `json:"name"`

	// Dimensions is the length of every vector. It may be left zero when
	// Preset names a known embedding model.
	Dimensions int `json:"dimensions,omitempty"`

	// Metric is one of "cosine", "euclidean" or "dot-product".
	Metric string `json:"metric"`

	// Preset names an embedding model whose dimension is used as a hint.
	Preset model.KnownModel `json:"preset,omitempty"`
}

// Validate checks the configuration and reports every problem found.
func (c Config) Validate() error {
	_, _, err := c.resolve()
	return err
}

func (c Config) resolve() (int, distance.Metric, error) {
	var errs []error

	dim := c.Dimensions
	if c.Preset != "" {
		d, ok := c.Preset.Dimensions()
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, c.Preset))
		case dim == 0:
			dim = d
		case dim != d:
			errs = append(errs, fmt.Errorf("%w: preset %q has %d dimensions, got %d", ErrInvalidConfig, c.Preset, d, dim))
		}
	}
	if dim <= 0 && c.Preset == "" {
		errs = append(errs, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidConfig, dim))
	}

	metric, err := distance.ParseMetric(c.Metric)
	if err != nil {
		errs = append(errs, &ErrInvalidMetric{Name: c.Metric, cause: err})
	}

	if len(errs) > 0 {
		return 0, 0, errors.Join(errs...)
	}
	return dim, metric, nil
}
