package vectorize

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/engine"
	"github.com/hupe1980/vectorize/internal/hnsw"
	"github.com/hupe1980/vectorize/internal/store"
	"github.com/hupe1980/vectorize/model"
)

var (
	// ErrNotFound is returned when a requested id is absent.
	ErrNotFound = errors.New("vectorize: not found")

	// ErrInvalidConfig is returned for an invalid index configuration or
	// invalid query options.
	ErrInvalidConfig = errors.New("vectorize: invalid config")

	// ErrUnavailable is returned when the index cannot accept an operation right
	// now (journal failure, backpressure, query slots exhausted). Nothing was
	// applied; the caller may retry.
	ErrUnavailable = errors.New("vectorize: unavailable")

	// ErrClosed is returned when the index is used after Close.
	ErrClosed = errors.New("vectorize: index closed")

	// ErrEmptyID is reported in Rejected for records without an id.
	ErrEmptyID = engine.ErrEmptyID
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidMetric indicates an unsupported distance metric name.
type ErrInvalidMetric struct {
	Name  string
	cause error
}

func (e *ErrInvalidMetric) Error() string {
	return fmt.Sprintf("invalid distance metric: %q", e.Name)
}

func (e *ErrInvalidMetric) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *store.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var gdm *hnsw.ErrDimensionMismatch
	if errors.As(err, &gdm) {
		return &ErrDimensionMismatch{Expected: gdm.Expected, Actual: gdm.Actual, cause: err}
	}
	var um *distance.ErrUnknownMetric
	if errors.As(err, &um) {
		return &ErrInvalidMetric{Name: um.Name, cause: err}
	}

	switch {
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, engine.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, engine.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	case errors.Is(err, engine.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

func translateRejections(rs []model.Rejection) {
	for i := range rs {
		rs[i].Err = translateError(rs[i].Err)
	}
}
