package types

import "slices"

type Aggregate string

const (
	AggSum           Aggregate = "sum"
	AggAbsSum        Aggregate = "abs sum"
	AggSumAbs        Aggregate = "sum abs"
	AggSumNotNull    Aggregate = "sum not null"
	AggCount         Aggregate = "count"
	AggMean          Aggregate = "mean"
	AggAvg           Aggregate = "avg"
	AggMin           Aggregate = "min"
	AggMax           Aggregate = "max"
	AggLow           Aggregate = "low"
	AggHigh          Aggregate = "high"
	AggMedian        Aggregate = "median"
	AggDistinctCount Aggregate = "distinct count"
	AggWeightedMean  Aggregate = "weighted mean"
	AggDominant      Aggregate = "dominant"
	AggFirst         Aggregate = "first"
	AggLast          Aggregate = "last"
	AggUnique        Aggregate = "unique"
	AggAny           Aggregate = "any"
)

var (
	basicAggregates = []Aggregate{
		AggCount, AggDistinctCount, AggDominant, AggFirst, AggLast, AggUnique, AggAny,
	}
	orderedAggregates = append(slices.Clone(basicAggregates), AggMin, AggMax, AggLow, AggHigh, AggMedian)
	numericAggregates = append(slices.Clone(orderedAggregates),
		AggSum, AggAbsSum, AggSumAbs, AggSumNotNull, AggMean, AggAvg, AggWeightedMean)
)

// ValidAggregates lists the aggregates allowed for columns of type t.
func ValidAggregates(t Type) []Aggregate {
	switch {
	case t.IsNumeric():
		return numericAggregates
	case t.IsTemporal():
		return orderedAggregates
	}
	return basicAggregates
}

func IsValidAggregate(t Type, agg Aggregate) bool {
	return slices.Contains(ValidAggregates(t), agg)
}

func DefaultAggregate(t Type) Aggregate {
	if t.IsNumeric() {
		return AggSum
	}
	return AggCount
}

// AggregateResultType is the type of the values agg produces over a column of type t.
func AggregateResultType(agg Aggregate, t Type) Type {
	switch agg {
	case AggCount, AggDistinctCount:
		return TypeInteger
	case AggMean, AggAvg, AggWeightedMean:
		return TypeFloat
	case AggSum, AggAbsSum, AggSumAbs, AggSumNotNull:
		if t == TypeInteger {
			return TypeInteger
		}
		return TypeFloat
	case AggMedian:
		if t.IsNumeric() {
			return TypeFloat
		}
	}
	return t
}
