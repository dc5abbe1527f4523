package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrNestedObject is returned when a metadata value is a map.
// Metadata documents are flat; this is the only structural validation applied.
var ErrNestedObject = errors.New("metadata: nested objects are not supported")

// FromAny converts a Go value into a typed Value.
//
// This exists as an adapter layer for user input (decoded JSON, YAML, msgpack).
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return fromNumber(x)
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint64(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint64(x)
	case []Value:
		return Array(x), nil
	case []any:
		arr := make([]Value, len(x))
		for i := range x {
			vv, err := FromAny(x[i])
			if err != nil {
				return Value{}, err
			}
			arr[i] = vv
		}
		return Array(arr), nil
	case []string:
		return Strings(x...), nil
	case []int:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Int(int64(x[i]))
		}
		return Array(arr), nil
	case []float64:
		arr := make([]Value, len(x))
		for i := range x {
			arr[i] = Float(x[i])
		}
		return Array(arr), nil
	case map[string]any, map[any]any, Document:
		return Value{}, ErrNestedObject
	default:
		return Value{}, fmt.Errorf("metadata: unsupported value type %T", v)
	}
}

func fromUint64(x uint64) (Value, error) {
	if x > math.MaxInt64 {
		// Avoid silently truncating large values.
		return Value{}, fmt.Errorf("metadata: uint64 out of range: %d", x)
	}
	return Int(int64(x)), nil
}

func fromNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("metadata: invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// DocumentFromAny converts a map[string]any document to a typed Document.
// A nil map yields a nil Document.
func DocumentFromAny(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	d := make(Document, len(m))
	for k, v := range m {
		vv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		d[k] = vv
	}
	return d, nil
}

var operatorsByToken = map[string]Operator{
	"$eq":       OpEqual,
	"$ne":       OpNotEqual,
	"$gt":       OpGreaterThan,
	"$gte":      OpGreaterEqual,
	"$lt":       OpLessThan,
	"$lte":      OpLessEqual,
	"$in":       OpIn,
	"$nin":      OpNotIn,
	"$contains": OpContains,
}

// ParseFilter converts a query-language filter into a FilterSet.
//
// Each top-level field maps to either a literal (implicit $eq) or an object of
// operator tokens, all of which are ANDed:
//
//	{"genre": "drama", "year": {"$gte": 2000, "$lt": 2010}, "tag": {"$in": ["a", "b"]}}
//
// Filters are emitted in key order so the result is deterministic.
func ParseFilter(raw map[string]any) (*FilterSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fs := &FilterSet{}
	for _, key := range keys {
		if key == "" {
			return nil, fmt.Errorf("metadata: filter key must not be empty")
		}

		ops, isObject := raw[key].(map[string]any)
		if !isObject {
			v, err := FromAny(raw[key])
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", key, err)
			}
			fs.Filters = append(fs.Filters, Eq(key, v))
			continue
		}

		tokens := make([]string, 0, len(ops))
		for tok := range ops {
			tokens = append(tokens, tok)
		}
		sort.Strings(tokens)

		for _, tok := range tokens {
			op, ok := operatorsByToken[tok]
			if !ok {
				return nil, fmt.Errorf("metadata: unknown filter operator %q on %q", tok, key)
			}
			v, err := FromAny(ops[tok])
			if err != nil {
				return nil, fmt.Errorf("filter %q %s: %w", key, tok, err)
			}
			f := Filter{Key: key, Operator: op, Value: v}
			if err := f.Validate(); err != nil {
				return nil, err
			}
			fs.Filters = append(fs.Filters, f)
		}
	}
	return fs, nil
}
