package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		metadata Document
		want     bool
	}{
		{
			name:     "OpEqual string match",
			filter:   Eq("category", String("tech")),
			metadata: Document{"category": String("tech")},
			want:     true,
		},
		{
			name:     "OpEqual string no match",
			filter:   Eq("category", String("tech")),
			metadata: Document{"category": String("sports")},
			want:     false,
		},
		{
			name:     "OpEqual int against float",
			filter:   Eq("count", Float(10)),
			metadata: Document{"count": Int(10)},
			want:     true,
		},
		{
			name:     "OpEqual missing key",
			filter:   Eq("count", Int(10)),
			metadata: Document{},
			want:     false,
		},
		{
			name:     "OpNotEqual",
			filter:   Ne("status", String("active")),
			metadata: Document{"status": String("inactive")},
			want:     true,
		},
		{
			name:     "OpNotEqual missing key",
			filter:   Ne("status", String("active")),
			metadata: nil,
			want:     true,
		},
		{
			name:     "OpGreaterThan",
			filter:   Gt("score", Int(50)),
			metadata: Document{"score": Int(75)},
			want:     true,
		},
		{
			name:     "OpGreaterThan string operand",
			filter:   Gt("score", Int(50)),
			metadata: Document{"score": String("75")},
			want:     false,
		},
		{
			name:     "OpGreaterEqual equal",
			filter:   Gte("age", Int(18)),
			metadata: Document{"age": Int(18)},
			want:     true,
		},
		{
			name:     "OpLessThan",
			filter:   Lt("temperature", Float(100.5)),
			metadata: Document{"temperature": Int(75)},
			want:     true,
		},
		{
			name:     "OpLessEqual equal",
			filter:   Lte("limit", Int(10)),
			metadata: Document{"limit": Int(10)},
			want:     true,
		},
		{
			name:     "OpIn string list",
			filter:   In("color", String("red"), String("blue")),
			metadata: Document{"color": String("blue")},
			want:     true,
		},
		{
			name:     "OpIn no match",
			filter:   In("color", String("red"), String("blue")),
			metadata: Document{"color": String("green")},
			want:     false,
		},
		{
			name:     "OpNotIn",
			filter:   Nin("color", String("red")),
			metadata: Document{"color": String("green")},
			want:     true,
		},
		{
			name:     "OpContains substring",
			filter:   Contains("text", "world"),
			metadata: Document{"text": String("hello world")},
			want:     true,
		},
		{
			name:     "OpContains array element",
			filter:   Contains("tags", "go"),
			metadata: Document{"tags": Strings("rust", "go")},
			want:     true,
		},
		{
			name:     "Unknown operator",
			filter:   Filter{Key: "a", Operator: "regex", Value: String("x")},
			metadata: Document{"a": String("x")},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.metadata))
		})
	}
}

func TestFilterSet(t *testing.T) {
	doc := Document{"genre": String("drama"), "year": Int(2004)}

	t.Run("NilMatchesAll", func(t *testing.T) {
		var fs *FilterSet
		assert.True(t, fs.Matches(doc))
		assert.True(t, fs.IsEmpty())
		assert.NoError(t, fs.Validate())
	})

	t.Run("AND", func(t *testing.T) {
		fs := NewFilterSet(Eq("genre", String("drama")), Gte("year", Int(2000)))
		assert.True(t, fs.Matches(doc))

		fs = NewFilterSet(Eq("genre", String("drama")), Gte("year", Int(2010)))
		assert.False(t, fs.Matches(doc))
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, NewFilterSet(Filter{Key: "a", Operator: OpIn, Value: String("x")}).Validate())
		assert.Error(t, NewFilterSet(Filter{Key: "a", Operator: OpGreaterThan, Value: String("x")}).Validate())
		assert.Error(t, NewFilterSet(Filter{Key: "", Operator: OpEqual, Value: Int(1)}).Validate())
		assert.Error(t, NewFilterSet(Filter{Key: "a", Operator: "between", Value: Int(1)}).Validate())
		assert.NoError(t, NewFilterSet(In("a", Int(1))).Validate())
	})
}

func TestNumericEqualityFollowsKey(t *testing.T) {
	const big = int64(1) << 53

	tests := []struct {
		a, b Value
	}{
		{Int(7), Float(7)},
		{Int(7), Float(7.25)},
		{Int(big), Float(float64(big))},
		{Int(big + 1), Float(float64(big))},
		{Int(-big + 1), Float(float64(-big + 1))},
		{Float(1.5), Float(1.5)},
		{Int(3), Int(3)},
	}
	for _, tt := range tests {
		want := tt.a.Key() == tt.b.Key()
		assert.Equal(t, want, compareEqual(tt.a, tt.b), "%s vs %s", tt.a.Key(), tt.b.Key())
		assert.Equal(t, want, compareEqual(tt.b, tt.a), "%s vs %s", tt.b.Key(), tt.a.Key())
	}

	doc := Document{"n": Int(big + 1)}
	eq, gte, lte := Eq("n", Float(float64(big))), Gte("n", Float(float64(big))), Lte("n", Float(float64(big)))
	assert.False(t, eq.Matches(doc))
	assert.True(t, gte.Matches(doc))
	assert.True(t, lte.Matches(doc))
}

func TestParseFilter(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		fs, err := ParseFilter(nil)
		require.NoError(t, err)
		assert.Nil(t, fs)
	})

	t.Run("ImplicitEqAndOperators", func(t *testing.T) {
		fs, err := ParseFilter(map[string]any{
			"genre": "drama",
			"year":  map[string]any{"$gte": 2000.0, "$lt": 2010.0},
			"tag":   map[string]any{"$in": []any{"a", "b"}},
		})
		require.NoError(t, err)
		require.Len(t, fs.Filters, 4)

		assert.Equal(t, Eq("genre", String("drama")), fs.Filters[0])
		assert.Equal(t, OpIn, fs.Filters[1].Operator)
		assert.Equal(t, "tag", fs.Filters[1].Key)
		assert.Equal(t, OpGreaterEqual, fs.Filters[2].Operator)
		assert.Equal(t, OpLessThan, fs.Filters[3].Operator)

		assert.True(t, fs.Matches(Document{"genre": String("drama"), "year": Int(2004), "tag": String("b")}))
		assert.False(t, fs.Matches(Document{"genre": String("drama"), "year": Int(2014), "tag": String("b")}))
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := ParseFilter(map[string]any{"a": map[string]any{"$regex": "x"}})
		assert.Error(t, err)

		_, err = ParseFilter(map[string]any{"a": map[string]any{"$in": "x"}})
		assert.Error(t, err)

		_, err = ParseFilter(map[string]any{"a": map[string]any{"$eq": map[string]any{"b": 1}}})
		assert.ErrorIs(t, err, ErrNestedObject)
	})
}
