package expression

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tobsdb/pivot/internal/types"
)

type Function struct {
	Name string
	// MinArgs and MaxArgs bound the argument count; MaxArgs < 0 means variadic.
	MinArgs int
	MaxArgs int
	// Check returns the result type for the argument types, or an error message.
	Check func(args []types.Type) (types.Type, error)
	Eval  func(args []any) any
}

var functions = map[string]*Function{}

func register(fns ...*Function) {
	for _, fn := range fns {
		functions[fn.Name] = fn
	}
}

// Lookup finds a registered function by name.
func Lookup(name string) (*Function, bool) {
	fn, ok := functions[name]
	return fn, ok
}

// Functions lists the names of every registered function.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	return names
}

func expectAll(name string, want func(types.Type) bool, desc string, result types.Type) func([]types.Type) (types.Type, error) {
	return func(args []types.Type) (types.Type, error) {
		for _, t := range args {
			if !want(t) {
				return "", fmt.Errorf("%s expects %s arguments, got %s", name, desc, t)
			}
		}
		return result, nil
	}
}

func isNumeric(t types.Type) bool  { return t.IsNumeric() }
func isString(t types.Type) bool   { return t == types.TypeString }
func isTemporal(t types.Type) bool { return t.IsTemporal() }

func num(v any) float64 {
	f, _ := types.ToFloat(v)
	return f
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func numeric1(name string, f func(float64) float64) *Function {
	return &Function{
		Name: name, MinArgs: 1, MaxArgs: 1,
		Check: expectAll(name, isNumeric, "numeric", types.TypeFloat),
		Eval:  func(args []any) any { return finite(f(num(args[0]))) },
	}
}

func numeric2(name string, f func(a, b float64) float64) *Function {
	return &Function{
		Name: name, MinArgs: 2, MaxArgs: 2,
		Check: expectAll(name, isNumeric, "numeric", types.TypeFloat),
		Eval:  func(args []any) any { return finite(f(num(args[0]), num(args[1]))) },
	}
}

func temporal1(name string, result types.Type, f func(time.Time) any) *Function {
	return &Function{
		Name: name, MinArgs: 1, MaxArgs: 1,
		Check: expectAll(name, isTemporal, "date or datetime", result),
		Eval:  func(args []any) any { return f(args[0].(time.Time).UTC()) },
	}
}

func concat(name, sep string) *Function {
	return &Function{
		Name: name, MinArgs: 1, MaxArgs: -1,
		Check: expectAll(name, isString, "string", types.TypeString),
		Eval: func(args []any) any {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = a.(string)
			}
			return strings.Join(parts, sep)
		},
	}
}

func init() {
	register(
		numeric2("+", func(a, b float64) float64 { return a + b }),
		numeric2("-", func(a, b float64) float64 { return a - b }),
		numeric2("*", func(a, b float64) float64 { return a * b }),
		// division and modulo by zero produce null through finite()
		numeric2("/", func(a, b float64) float64 { return a / b }),
		numeric2("%", math.Mod),
		numeric2("^", math.Pow),
		numeric2("pow", math.Pow),
		numeric2("min_of", math.Min),
		numeric2("max_of", math.Max),
		numeric2("bucket", func(a, b float64) float64 { return math.Floor(a/b) * b }),

		numeric1("sqrt", math.Sqrt),
		numeric1("abs", math.Abs),
		numeric1("pow2", func(a float64) float64 { return a * a }),
		numeric1("invert", func(a float64) float64 { return 1 / a }),
		numeric1("log", math.Log),
		numeric1("exp", math.Exp),
		numeric1("floor", math.Floor),
		numeric1("ceil", math.Ceil),

		&Function{
			Name: "uppercase", MinArgs: 1, MaxArgs: 1,
			Check: expectAll("uppercase", isString, "string", types.TypeString),
			Eval:  func(args []any) any { return strings.ToUpper(args[0].(string)) },
		},
		&Function{
			Name: "lowercase", MinArgs: 1, MaxArgs: 1,
			Check: expectAll("lowercase", isString, "string", types.TypeString),
			Eval:  func(args []any) any { return strings.ToLower(args[0].(string)) },
		},
		&Function{
			Name: "length", MinArgs: 1, MaxArgs: 1,
			Check: expectAll("length", isString, "string", types.TypeInteger),
			Eval:  func(args []any) any { return int64(utf8.RuneCountInString(args[0].(string))) },
		},
		concat("concat_comma", ", "),
		concat("concat_space", " "),

		temporal1("hour_of_day", types.TypeInteger, func(t time.Time) any { return int64(t.Hour()) }),
		temporal1("day_of_week", types.TypeString, func(t time.Time) any {
			return fmt.Sprintf("%d %s", int(t.Weekday())+1, t.Weekday())
		}),
		temporal1("month_of_year", types.TypeString, func(t time.Time) any {
			return fmt.Sprintf("%02d %s", int(t.Month()), t.Month())
		}),
		temporal1("second_bucket", types.TypeDateTime, func(t time.Time) any { return t.Truncate(time.Second) }),
		temporal1("minute_bucket", types.TypeDateTime, func(t time.Time) any { return t.Truncate(time.Minute) }),
		temporal1("hour_bucket", types.TypeDateTime, func(t time.Time) any { return t.Truncate(time.Hour) }),
		temporal1("day_bucket", types.TypeDate, func(t time.Time) any { return types.TruncateDay(t) }),
		temporal1("week_bucket", types.TypeDate, func(t time.Time) any {
			d := types.TruncateDay(t)
			// weeks start on monday
			offset := (int(d.Weekday()) + 6) % 7
			return d.AddDate(0, 0, -offset)
		}),
		temporal1("month_bucket", types.TypeDate, func(t time.Time) any {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		}),
		temporal1("year_bucket", types.TypeDate, func(t time.Time) any {
			return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		}),

		&Function{
			Name: "identity", MinArgs: 1, MaxArgs: 1,
			Check: func(args []types.Type) (types.Type, error) { return args[0], nil },
			Eval:  func(args []any) any { return args[0] },
		},
	)
}
