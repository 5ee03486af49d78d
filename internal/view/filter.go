package view

import (
	"fmt"
	"strings"

	"github.com/tobsdb/pivot/internal/types"
)

type filterFn struct {
	column string
	match  func(v any) bool
}

func (f *filterFn) test(row types.Row) bool { return f.match(row.Get(f.column)) }

// compileFilter resolves a filter's operand against the column type. A filter
// without an operand matches everything and compiles to nil.
func compileFilter(f Filter, t types.Type) (*filterFn, error) {
	if !types.IsValidFilterOp(t, f.Op) {
		return nil, fmt.Errorf("Invalid filter operator %q for column %q of type %s.", f.Op, f.Column, t)
	}

	fn := &filterFn{column: f.Column}
	switch f.Op {
	case types.OpIsNull:
		fn.match = func(v any) bool { return v == nil }
		return fn, nil
	case types.OpIsNotNull:
		fn.match = func(v any) bool { return v != nil }
		return fn, nil
	}

	if f.Operand == nil {
		return nil, nil
	}

	if f.Op.IsSet() {
		list, ok := f.Operand.([]any)
		if !ok {
			if strs, ok := f.Operand.([]string); ok {
				for _, s := range strs {
					list = append(list, s)
				}
			} else {
				return nil, fmt.Errorf("Filter %q on column %q expects a list operand.", f.Op, f.Column)
			}
		}
		set := map[string]bool{}
		for _, item := range list {
			c, err := types.Coerce(t, item)
			if err != nil {
				return nil, fmt.Errorf("Invalid filter operand for column %q: %w", f.Column, err)
			}
			set[types.Key(c)] = true
		}
		in := f.Op == types.OpIn
		fn.match = func(v any) bool {
			if v == nil {
				return false
			}
			return set[types.Key(v)] == in
		}
		return fn, nil
	}

	operand, err := types.Coerce(t, f.Operand)
	if err != nil {
		return nil, fmt.Errorf("Invalid filter operand for column %q: %w", f.Column, err)
	}
	if operand == nil {
		return nil, nil
	}

	switch f.Op {
	case types.OpContains, types.OpBeginsWith, types.OpEndsWith:
		s := operand.(string)
		check := strings.Contains
		if f.Op == types.OpBeginsWith {
			check = strings.HasPrefix
		} else if f.Op == types.OpEndsWith {
			check = strings.HasSuffix
		}
		fn.match = func(v any) bool {
			str, ok := v.(string)
			return ok && check(str, s)
		}
		return fn, nil
	}

	var cmp func(c int) bool
	switch f.Op {
	case types.OpEq:
		cmp = func(c int) bool { return c == 0 }
	case types.OpNe:
		cmp = func(c int) bool { return c != 0 }
	case types.OpGt:
		cmp = func(c int) bool { return c > 0 }
	case types.OpLt:
		cmp = func(c int) bool { return c < 0 }
	case types.OpGe:
		cmp = func(c int) bool { return c >= 0 }
	case types.OpLe:
		cmp = func(c int) bool { return c <= 0 }
	default:
		return nil, fmt.Errorf("Invalid filter operator %q.", f.Op)
	}
	fn.match = func(v any) bool {
		if v == nil {
			return false
		}
		return cmp(types.Compare(v, operand))
	}
	return fn, nil
}
