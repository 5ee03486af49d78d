package types_test

import (
	"testing"
	"time"

	. "github.com/tobsdb/pivot/internal/types"
	"gotest.tools/assert"
)

func TestSchema(t *testing.T) {
	t.Run("keeps column order", func(t *testing.T) {
		s, err := SchemaOf(Column{"z", TypeString}, Column{"a", TypeFloat})
		assert.NilError(t, err)
		assert.DeepEqual(t, s.Names(), []string{"z", "a"})
		assert.Equal(t, s.Get("a"), TypeFloat)
		assert.Assert(t, s.Has("z"))
		assert.Assert(t, !s.Has("y"))
	})

	t.Run("unordered map sorts by name", func(t *testing.T) {
		s, err := SchemaFromMap(map[string]string{"b": "integer", "a": "date"})
		assert.NilError(t, err)
		assert.DeepEqual(t, s.Names(), []string{"a", "b"})
		assert.DeepEqual(t, s.Map(), map[string]string{"b": "integer", "a": "date"})
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := SchemaFromMap(map[string]string{"a": "decimal"})
		assert.ErrorContains(t, err, "Invalid type")
	})

	t.Run("duplicate column", func(t *testing.T) {
		_, err := SchemaOf(Column{"a", TypeString}, Column{"a", TypeFloat})
		assert.ErrorContains(t, err, "Duplicate column")
	})

	t.Run("clone is independent", func(t *testing.T) {
		s, _ := SchemaOf(Column{"a", TypeString})
		c := s.Clone()
		assert.NilError(t, c.Add("b", TypeBoolean))
		assert.Equal(t, s.Len(), 1)
		assert.Equal(t, c.Len(), 2)
	})
}

func TestCoerce(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		t    Type
		in   any
		out  any
	}{
		{"int from float64", TypeInteger, float64(3), int64(3)},
		{"int from string", TypeInteger, "42", int64(42)},
		{"float from int", TypeFloat, 2, float64(2)},
		{"float from string", TypeFloat, "2.5", 2.5},
		{"string from number", TypeString, 1.5, "1.5"},
		{"bool from string", TypeBoolean, "false", false},
		{"date from string", TypeDate, "2024-03-05", day},
		{"date drops time", TypeDate, "2024-03-05T10:11:12Z", day},
		{"datetime from millis", TypeDateTime, float64(day.UnixMilli()), day},
		{"object passthrough", TypeObject, map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"null stays null", TypeFloat, nil, nil},
		{"empty numeric string is null", TypeInteger, "", nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := Coerce(c.t, c.in)
			assert.NilError(t, err)
			assert.DeepEqual(t, v, c.out)
		})
	}

	t.Run("fractional integer", func(t *testing.T) {
		_, err := Coerce(TypeInteger, 1.5)
		assert.ErrorContains(t, err, "expected integer")
	})

	t.Run("bad float", func(t *testing.T) {
		_, err := Coerce(TypeFloat, "abc")
		assert.ErrorContains(t, err, "expected float")
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := Coerce(TypeDate, true)
		assert.ErrorContains(t, err, "expected date")
	})
}

func TestInfer(t *testing.T) {
	assert.Equal(t, Infer([]any{float64(1), float64(2)}), TypeInteger)
	assert.Equal(t, Infer([]any{float64(1), 2.5}), TypeFloat)
	assert.Equal(t, Infer([]any{nil, true}), TypeBoolean)
	assert.Equal(t, Infer([]any{"2024-01-01"}), TypeDate)
	assert.Equal(t, Infer([]any{"2024-01-01 10:00:00"}), TypeDateTime)
	assert.Equal(t, Infer([]any{"2024-01-01", "2024-01-01 10:00:00"}), TypeDateTime)
	assert.Equal(t, Infer([]any{"a", float64(1)}), TypeString)
	assert.Equal(t, Infer([]any{nil, nil}), TypeString)
	assert.Equal(t, Infer([]any{time.Now()}), TypeDateTime)
	assert.Equal(t, InferStrings([]string{"1", "", "2.5"}), TypeFloat)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, Compare(nil, int64(1)), -1)
	assert.Equal(t, Compare(int64(1), nil), 1)
	assert.Equal(t, Compare(nil, nil), 0)
	assert.Equal(t, Compare(int64(2), 1.5), 1)
	assert.Equal(t, Compare("a", "b"), -1)
	assert.Equal(t, Compare(false, true), -1)
	assert.Assert(t, Equal(int64(3), float64(3)))
	assert.Equal(t, ComparePaths([]any{"a"}, []any{"a", "b"}), -1)
	assert.Equal(t, Key(int64(3)), Key(float64(3)))
	assert.Assert(t, PathKey([]any{"a", nil}) != PathKey([]any{"a"}))
}

func TestAggregates(t *testing.T) {
	assert.Equal(t, DefaultAggregate(TypeFloat), AggSum)
	assert.Equal(t, DefaultAggregate(TypeString), AggCount)
	assert.Assert(t, IsValidAggregate(TypeInteger, AggWeightedMean))
	assert.Assert(t, !IsValidAggregate(TypeString, AggSum))
	assert.Assert(t, IsValidAggregate(TypeDate, AggMax))
	assert.Equal(t, AggregateResultType(AggCount, TypeString), TypeInteger)
	assert.Equal(t, AggregateResultType(AggSum, TypeInteger), TypeInteger)
	assert.Equal(t, AggregateResultType(AggAvg, TypeInteger), TypeFloat)
	assert.Equal(t, AggregateResultType(AggFirst, TypeDate), TypeDate)
}

func TestFilterOps(t *testing.T) {
	assert.Assert(t, IsValidFilterOp(TypeString, OpContains))
	assert.Assert(t, !IsValidFilterOp(TypeFloat, OpContains))
	assert.Assert(t, IsValidFilterOp(TypeDate, OpGe))
	assert.Assert(t, !IsValidFilterOp(TypeBoolean, OpGt))
	assert.Assert(t, OpIn.IsSet())
	assert.Assert(t, OpIsNull.IsUnary())
}
