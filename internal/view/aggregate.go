package view

import (
	"math"
	"sort"

	"github.com/tobsdb/pivot/internal/types"
)

// incremental reports whether agg can be maintained by adding and removing
// single values. Everything else is recomputed from the cell's members.
func incremental(agg types.Aggregate) bool {
	switch agg {
	case types.AggSum, types.AggAbsSum, types.AggSumAbs, types.AggSumNotNull,
		types.AggCount, types.AggMean, types.AggAvg, types.AggWeightedMean:
		return true
	}
	return false
}

// accumulator holds one aggregate of one column within one cell.
type accumulator struct {
	spec   *aggSpec
	sum    float64
	weight float64
	count  int64

	dirty  bool
	cached any
}

func newAccumulator(spec *aggSpec) *accumulator {
	return &accumulator{spec: spec, dirty: true}
}

func (a *accumulator) weightOf(row types.Row) (float64, bool) {
	w := row.Get(a.spec.Weights[0])
	if w == nil {
		return 0, false
	}
	return types.ToFloat(w)
}

func (a *accumulator) update(row types.Row, sign int) {
	if !incremental(a.spec.Kind) {
		a.dirty = true
		return
	}

	v := row.Get(a.spec.Column)
	if v == nil {
		return
	}
	s := float64(sign)

	switch a.spec.Kind {
	case types.AggCount:
		a.count += int64(sign)
	case types.AggWeightedMean:
		w, ok := a.weightOf(row)
		if !ok {
			return
		}
		f, _ := types.ToFloat(v)
		a.sum += s * f * w
		a.weight += s * w
		a.count += int64(sign)
	case types.AggSumAbs:
		f, _ := types.ToFloat(v)
		a.sum += s * math.Abs(f)
		a.count += int64(sign)
	default:
		f, _ := types.ToFloat(v)
		a.sum += s * f
		a.count += int64(sign)
	}
}

func (a *accumulator) add(row types.Row)    { a.update(row, 1) }
func (a *accumulator) remove(row types.Row) { a.update(row, -1) }

func (a *accumulator) number(f float64) any {
	if a.spec.ResultType == types.TypeInteger {
		return int64(math.Round(f))
	}
	return f
}

// value returns the aggregate. members is only consulted for aggregates
// that are not maintained incrementally, and only when the cell changed.
func (a *accumulator) value(members func() []types.Row) any {
	switch a.spec.Kind {
	case types.AggCount:
		return a.count
	case types.AggSum:
		return a.number(a.sum)
	case types.AggSumNotNull, types.AggSumAbs:
		if a.count == 0 {
			return nil
		}
		return a.number(a.sum)
	case types.AggAbsSum:
		return a.number(math.Abs(a.sum))
	case types.AggMean, types.AggAvg:
		if a.count == 0 {
			return nil
		}
		return a.sum / float64(a.count)
	case types.AggWeightedMean:
		if a.weight == 0 {
			return nil
		}
		return a.sum / a.weight
	}

	if a.dirty {
		a.cached = recompute(a.spec, members())
		a.dirty = false
	}
	return a.cached
}

// recompute evaluates a non-incremental aggregate over rows given in row id order.
func recompute(spec *aggSpec, rows []types.Row) any {
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		if v := row.Get(spec.Column); v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		if spec.Kind == types.AggDistinctCount {
			return int64(0)
		}
		return nil
	}

	switch spec.Kind {
	case types.AggMin, types.AggLow:
		m := values[0]
		for _, v := range values[1:] {
			if types.Compare(v, m) < 0 {
				m = v
			}
		}
		return m
	case types.AggMax, types.AggHigh:
		m := values[0]
		for _, v := range values[1:] {
			if types.Compare(v, m) > 0 {
				m = v
			}
		}
		return m
	case types.AggMedian:
		sorted := make([]any, len(values))
		copy(sorted, values)
		sort.SliceStable(sorted, func(i, j int) bool { return types.Compare(sorted[i], sorted[j]) < 0 })
		mid := len(sorted) / 2
		if !spec.SourceType.IsNumeric() {
			if len(sorted)%2 == 0 {
				mid--
			}
			return sorted[mid]
		}
		hi, _ := types.ToFloat(sorted[mid])
		if len(sorted)%2 == 1 {
			return hi
		}
		lo, _ := types.ToFloat(sorted[mid-1])
		return (lo + hi) / 2
	case types.AggDistinctCount:
		seen := map[string]bool{}
		for _, v := range values {
			seen[types.Key(v)] = true
		}
		return int64(len(seen))
	case types.AggDominant:
		counts := map[string]int{}
		var best any
		best_n := 0
		for _, v := range values {
			k := types.Key(v)
			counts[k]++
			if counts[k] > best_n {
				best, best_n = v, counts[k]
			}
		}
		return best
	case types.AggFirst, types.AggAny:
		return values[0]
	case types.AggLast:
		return values[len(values)-1]
	case types.AggUnique:
		for _, v := range values[1:] {
			if !types.Equal(v, values[0]) {
				return nil
			}
		}
		return values[0]
	}
	return nil
}
