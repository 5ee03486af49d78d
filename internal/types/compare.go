package types

import (
	"fmt"
	"strings"
	"time"
)

// Compare orders two canonical values. nil sorts before everything else,
// numbers compare numerically across int64 and float64.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b)
		}
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0
			case !a:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b)
		}
	case int64:
		if b, ok := b.(int64); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
	}

	fa, aok := ToFloat(a)
	fb, bok := ToFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func Equal(a, b any) bool { return Compare(a, b) == 0 }

// ComparePaths orders row or column paths element by element.
func ComparePaths(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Key formats a value for use as a map key. Values that compare equal map to the same key.
func Key(v any) string {
	switch v := v.(type) {
	case nil:
		return "\x00"
	case time.Time:
		return fmt.Sprintf("t%d", v.UnixNano())
	case string:
		return "s" + v
	case float64:
		return fmt.Sprintf("n%v", v)
	case int64:
		return fmt.Sprintf("n%d", v)
	}
	if f, ok := ToFloat(v); ok {
		return fmt.Sprintf("n%v", f)
	}
	return fmt.Sprintf("%T%v", v, v)
}

const pathSep = "\x1f"

// PathKey formats a path for use as a map key.
func PathKey(path []any) string {
	parts := make([]string, len(path))
	for i, v := range path {
		parts[i] = Key(v)
	}
	return strings.Join(parts, pathSep)
}

// FormatValue renders a value the way it appears in split column names.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprint(v)
}
