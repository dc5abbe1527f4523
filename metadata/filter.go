package metadata

import (
	"fmt"
	"math"
	"strings"
)

// Matches checks if the provided metadata matches this filter.
//
// A missing key only matches the negated operators (ne, nin).
func (f *Filter) Matches(doc Document) bool {
	value, exists := doc[f.Key]
	if !exists {
		return f.Operator == OpNotEqual || f.Operator == OpNotIn
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		return compareGreater(value, f.Value)
	case OpGreaterEqual:
		return compareGreater(value, f.Value) || compareRangeEqual(value, f.Value)
	case OpLessThan:
		return compareLess(value, f.Value)
	case OpLessEqual:
		return compareLess(value, f.Value) || compareRangeEqual(value, f.Value)
	case OpIn:
		return compareIn(value, f.Value)
	case OpNotIn:
		return !compareIn(value, f.Value)
	case OpContains:
		return compareContains(value, f.Value)
	default:
		return false
	}
}

// Validate checks the operator and operand shape.
func (f *Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("metadata: filter key must not be empty")
	}
	if !f.Operator.Valid() {
		return fmt.Errorf("metadata: unknown filter operator %q", f.Operator)
	}
	switch f.Operator {
	case OpIn, OpNotIn:
		if f.Value.Kind != KindArray {
			return fmt.Errorf("metadata: operator %q on %q requires an array, got %s", f.Operator, f.Key, f.Value.Kind)
		}
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		if !isNumber(f.Value) {
			return fmt.Errorf("metadata: operator %q on %q requires a number, got %s", f.Operator, f.Key, f.Value.Kind)
		}
	case OpContains:
		if f.Value.Kind != KindString {
			return fmt.Errorf("metadata: operator %q on %q requires a string, got %s", f.Operator, f.Key, f.Value.Kind)
		}
	}
	return nil
}

// Matches checks if the provided metadata matches all filters in the set.
// A nil or empty set matches everything.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}
	return true
}

// Validate checks every filter in the set.
func (fs *FilterSet) Validate() error {
	if fs == nil {
		return nil
	}
	for i := range fs.Filters {
		if err := fs.Filters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the set has no filters.
func (fs *FilterSet) IsEmpty() bool {
	return fs == nil || len(fs.Filters) == 0
}

func compareEqual(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return false
	}

	if isNumber(a) && isNumber(b) {
		switch {
		case a.Kind == KindInt && b.Kind == KindInt:
			return a.I64 == b.I64
		case a.Kind == KindInt:
			return intEqualsFloat(a.I64, b.F64)
		case b.Kind == KindInt:
			return intEqualsFloat(b.I64, a.F64)
		}
		return a.F64 == b.F64
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.B == b.B
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// intEqualsFloat follows Value.Key: only integral floats below 2^53 equal an int.
func intEqualsFloat(i int64, f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53 && int64(f) == i
}

// compareRangeEqual is the equality half of gte/lte. Mixed int/float pairs
// compare as float64, like the strict range operators.
func compareRangeEqual(a, b Value) bool {
	if isNumber(a) && isNumber(b) && (a.Kind == KindFloat || b.Kind == KindFloat) {
		return asFloat64(a) == asFloat64(b)
	}
	return compareEqual(a, b)
}

func compareGreater(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) > asFloat64(b)
}

func compareLess(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) < asFloat64(b)
}

func compareIn(a, b Value) bool {
	if b.Kind != KindArray {
		return false
	}
	for _, item := range b.A {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

func compareContains(a, b Value) bool {
	if b.Kind != KindString {
		return false
	}
	switch a.Kind {
	case KindString:
		return strings.Contains(a.s.Value(), b.s.Value())
	case KindArray:
		for _, item := range a.A {
			if compareEqual(item, b) {
				return true
			}
		}
	}
	return false
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}
