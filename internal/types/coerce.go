package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006"}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if t, ok := parseDate(s); ok {
		return t, true
	}
	return time.Time{}, false
}

// TruncateDay drops the time of day from t, in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case time.Time:
		return float64(v.UnixMilli()), true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Coerce converts an incoming value to the canonical Go representation of t:
// string, float64, int64, bool, time.Time (date and datetime) or any (object).
// nil is always accepted and stays nil.
func Coerce(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case TypeString:
		switch v := v.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		}
		if f, ok := ToFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
	case TypeInteger:
		switch v := v.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
				return int64(f), nil
			}
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			if f, ok := ToFloat(v); ok && isNumber(v) {
				if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
					return nil, fmt.Errorf("expected integer, got %v", v)
				}
				return int64(f), nil
			}
		}
	case TypeFloat:
		switch v := v.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, nil
			}
		default:
			if isNumber(v) {
				f, _ := ToFloat(v)
				return f, nil
			}
		}
	case TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "t", "yes", "1":
				return true, nil
			case "false", "f", "no", "0":
				return false, nil
			case "":
				return nil, nil
			}
		default:
			if f, ok := ToFloat(v); ok {
				return f != 0, nil
			}
		}
	case TypeDate:
		switch v := v.(type) {
		case time.Time:
			return TruncateDay(v), nil
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, nil
			}
			if d, ok := parseDateTime(strings.TrimSpace(v)); ok {
				return TruncateDay(d), nil
			}
		default:
			if isNumber(v) {
				f, _ := ToFloat(v)
				return TruncateDay(time.UnixMilli(int64(f))), nil
			}
		}
	case TypeDateTime:
		switch v := v.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, nil
			}
			if d, ok := parseDateTime(strings.TrimSpace(v)); ok {
				return d, nil
			}
		default:
			if isNumber(v) {
				f, _ := ToFloat(v)
				return time.UnixMilli(int64(f)).UTC(), nil
			}
		}
	case TypeObject:
		return v, nil
	default:
		return nil, fmt.Errorf("unknown type %q", t)
	}

	return nil, fmt.Errorf("expected %s, got %T(%v)", t, v, v)
}

// Infer guesses the narrowest type able to hold every non-null value.
func Infer(values []any) Type {
	var seen Type
	for _, v := range values {
		if v == nil {
			continue
		}
		t := inferOne(v)
		switch {
		case seen == "":
			seen = t
		case seen == t:
		case seen == TypeInteger && t == TypeFloat, seen == TypeFloat && t == TypeInteger:
			seen = TypeFloat
		case seen == TypeDate && t == TypeDateTime, seen == TypeDateTime && t == TypeDate:
			seen = TypeDateTime
		default:
			return TypeString
		}
	}
	if seen == "" {
		return TypeString
	}
	return seen
}

func inferOne(v any) Type {
	switch v := v.(type) {
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeDateTime
	case string:
		return inferString(v)
	case map[string]any, []any:
		return TypeObject
	}
	if f, ok := ToFloat(v); ok {
		// decoded JSON has no integer kind, so integral floats count as integers
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return TypeInteger
		}
		return TypeFloat
	}
	return TypeObject
}

// inferString guesses the type of a textual value, as found in CSV input.
func inferString(s string) Type {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeString
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeFloat
	}
	switch strings.ToLower(s) {
	case "true", "false":
		return TypeBoolean
	}
	if _, ok := parseDate(s); ok {
		return TypeDate
	}
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return TypeDateTime
		}
	}
	return TypeString
}

// InferStrings is Infer for columns of text, ignoring empty cells.
func InferStrings(values []string) Type {
	anys := make([]any, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		anys = append(anys, v)
	}
	return Infer(anys)
}
