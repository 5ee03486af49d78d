package view

import (
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/tobsdb/pivot/internal/types"
)

type SortDir string

const (
	SortAsc     SortDir = "asc"
	SortDesc    SortDir = "desc"
	SortAscAbs  SortDir = "asc abs"
	SortDescAbs SortDir = "desc abs"
	SortNone    SortDir = "none"
)

func (d SortDir) IsValid() bool {
	switch d {
	case SortAsc, SortDesc, SortAscAbs, SortDescAbs, SortNone:
		return true
	}
	return false
}

func (d SortDir) abs() bool  { return d == SortAscAbs || d == SortDescAbs }
func (d SortDir) desc() bool { return d == SortDesc || d == SortDescAbs }

// Sort is a [column, direction] pair.
type Sort struct {
	Column    string
	Direction SortDir
}

func (s Sort) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{s.Column, string(s.Direction)})
}

func (s *Sort) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("sort must be a [column, direction] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("sort must be a [column, direction] pair, got %d items", len(pair))
	}
	s.Column, s.Direction = pair[0], SortDir(pair[1])
	return nil
}

// Filter is a [column, operator, operand] triple. Unary operators take no operand.
type Filter struct {
	Column  string
	Op      types.FilterOp
	Operand any
}

func (f Filter) MarshalJSON() ([]byte, error) {
	if f.Op.IsUnary() {
		return json.Marshal([]any{f.Column, f.Op})
	}
	return json.Marshal([]any{f.Column, f.Op, f.Operand})
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("filter must be a [column, operator, operand] triple: %w", err)
	}
	if len(items) < 2 || len(items) > 3 {
		return fmt.Errorf("filter must be a [column, operator, operand] triple, got %d items", len(items))
	}
	col, ok1 := items[0].(string)
	op, ok2 := items[1].(string)
	if !ok1 || !ok2 {
		return fmt.Errorf("filter column and operator must be strings")
	}
	f.Column, f.Op = col, types.FilterOp(op)
	if len(items) == 3 {
		f.Operand = items[2]
	}
	return nil
}

// Aggregate is an aggregate name, optionally with the weight columns
// of a weighted mean: "sum" or ["weighted mean", ["w"]].
type Aggregate struct {
	Kind    types.Aggregate
	Weights []string
}

func (a Aggregate) MarshalJSON() ([]byte, error) {
	if len(a.Weights) == 0 {
		return json.Marshal(a.Kind)
	}
	return json.Marshal([]any{a.Kind, a.Weights})
}

func (a *Aggregate) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.Kind = types.Aggregate(name)
		return nil
	}
	var compound []json.RawMessage
	if err := json.Unmarshal(data, &compound); err != nil || len(compound) != 2 {
		return fmt.Errorf("aggregate must be a name or a [name, [columns]] pair")
	}
	if err := json.Unmarshal(compound[0], &name); err != nil {
		return fmt.Errorf("aggregate name must be a string")
	}
	a.Kind = types.Aggregate(name)
	if err := json.Unmarshal(compound[1], &a.Weights); err != nil {
		return fmt.Errorf("aggregate columns must be a list of strings")
	}
	return nil
}

type Config struct {
	GroupBy []string `json:"group_by,omitempty"`
	SplitBy []string `json:"split_by,omitempty"`
	// Columns lists the output columns. Empty strings (JSON nulls) are placeholders
	// that keep their position but produce no output. nil means every column.
	Columns     []string             `json:"columns"`
	Aggregates  map[string]Aggregate `json:"aggregates,omitempty"`
	Sort        []Sort               `json:"sort,omitempty"`
	Filter      []Filter             `json:"filter,omitempty"`
	Expressions map[string]string    `json:"expressions,omitempty"`
}

// aggSpec is the resolved aggregate of one column.
type aggSpec struct {
	Column     string
	Kind       types.Aggregate
	Weights    []string
	SourceType types.Type
	ResultType types.Type
}

func invalidColumn(col, key string) error {
	return fmt.Errorf("Invalid column %q found in View %s.", col, key)
}

// resolve checks cfg against the schema (table columns plus expression columns)
// and fills in defaulted aggregates.
func (v *View) resolve(cfg Config) error {
	schema := v.schema

	for _, col := range cfg.GroupBy {
		if !schema.Has(col) {
			return invalidColumn(col, "group_by")
		}
	}
	for _, col := range cfg.SplitBy {
		if !schema.Has(col) {
			return invalidColumn(col, "split_by")
		}
	}

	if cfg.Columns == nil {
		v.columns = schema.Names()
	} else {
		v.columns = []string{}
		for _, col := range cfg.Columns {
			if col == "" {
				continue
			}
			if !schema.Has(col) {
				return invalidColumn(col, "columns")
			}
			if slices.Contains(v.columns, col) {
				return fmt.Errorf("Duplicate column %q found in View columns.", col)
			}
			v.columns = append(v.columns, col)
		}
	}

	for col, agg := range cfg.Aggregates {
		if !schema.Has(col) {
			return invalidColumn(col, "aggregates")
		}
		t := schema.Get(col)
		if !types.IsValidAggregate(t, agg.Kind) {
			return fmt.Errorf("Invalid aggregate %q for column %q of type %s.", agg.Kind, col, t)
		}
		if agg.Kind == types.AggWeightedMean {
			if len(agg.Weights) != 1 {
				return fmt.Errorf("Aggregate %q on column %q requires one weight column.", agg.Kind, col)
			}
			w := agg.Weights[0]
			if !schema.Has(w) {
				return invalidColumn(w, "aggregates")
			}
			if !schema.Get(w).IsNumeric() {
				return fmt.Errorf("Weight column %q must be numeric.", w)
			}
		}
	}

	v.sorts = []Sort{}
	for _, s := range cfg.Sort {
		if !schema.Has(s.Column) {
			return invalidColumn(s.Column, "sort")
		}
		if !s.Direction.IsValid() {
			return fmt.Errorf("Invalid sort direction %q for column %q.", s.Direction, s.Column)
		}
		if s.Direction != SortNone {
			v.sorts = append(v.sorts, s)
		}
	}

	v.filters = []*filterFn{}
	for _, f := range cfg.Filter {
		if !schema.Has(f.Column) {
			return invalidColumn(f.Column, "filter")
		}
		fn, err := compileFilter(f, schema.Get(f.Column))
		if err != nil {
			return err
		}
		if fn != nil {
			v.filters = append(v.filters, fn)
		}
	}

	// aggregates are kept for every output column and every sort column
	v.aggs = map[string]*aggSpec{}
	v.aggOrder = []string{}
	need := append(slices.Clone(v.columns), pluckSortColumns(v.sorts)...)
	for _, col := range need {
		if _, ok := v.aggs[col]; ok {
			continue
		}
		t := schema.Get(col)
		agg, ok := cfg.Aggregates[col]
		if !ok {
			agg = Aggregate{Kind: types.DefaultAggregate(t)}
		}
		v.aggs[col] = &aggSpec{
			Column:     col,
			Kind:       agg.Kind,
			Weights:    agg.Weights,
			SourceType: t,
			ResultType: types.AggregateResultType(agg.Kind, t),
		}
		v.aggOrder = append(v.aggOrder, col)
	}
	return nil
}

func pluckSortColumns(sorts []Sort) []string {
	cols := make([]string, len(sorts))
	for i, s := range sorts {
		cols[i] = s.Column
	}
	return cols
}
