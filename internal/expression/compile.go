package expression

import (
	"fmt"

	"github.com/tobsdb/pivot/internal/types"
)

// ComputedColumn is one step of an expression's evaluation plan.
type ComputedColumn struct {
	Column               string   `json:"column"`
	ComputedFunctionName string   `json:"computed_function_name"`
	Inputs               []string `json:"inputs"`
}

// ToComputedColumnConfig flattens an expression into its evaluation plan, inputs before
// the steps that consume them. Repeated sub-expressions appear once.
func ToComputedColumnConfig(src string) ([]ComputedColumn, error) {
	node, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return plan(node), nil
}

func plan(root Node) []ComputedColumn {
	steps := []ComputedColumn{}
	seen := map[string]bool{}

	var walk func(n Node)
	walk = func(n Node) {
		call, ok := n.(*Call)
		if !ok {
			return
		}
		inputs := make([]string, len(call.Args))
		for i, arg := range call.Args {
			walk(arg)
			inputs[i] = arg.Name()
		}
		name := call.Name()
		if seen[name] {
			return
		}
		seen[name] = true
		steps = append(steps, ComputedColumn{name, call.Func, inputs})
	}
	walk(root)
	return steps
}

// Compiled is an expression checked against a table schema.
type Compiled struct {
	Source string
	// Name is the column name the expression produces unless the caller renames it.
	Name string
	Type types.Type
	// Columns lists the table columns the expression reads.
	Columns []string
	Plan    []ComputedColumn

	root Node
}

// Compile parses src and type-checks it against schema.
func Compile(src string, schema *types.Schema) (*Compiled, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}

	c := &Compiled{Source: src, Name: root.Name(), root: root, Plan: plan(root)}
	seen := map[string]bool{}
	t, err := check(root, schema, func(col string) {
		if !seen[col] {
			seen[col] = true
			c.Columns = append(c.Columns, col)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Type = t
	return c, nil
}

func check(n Node, schema *types.Schema, uses func(string)) (types.Type, error) {
	switch n := n.(type) {
	case *ColumnRef:
		if !schema.Has(n.Column) {
			return "", newExprError(n.Pos, "Column %q does not exist", n.Column)
		}
		uses(n.Column)
		return schema.Get(n.Column), nil
	case *Literal:
		if _, ok := n.Value.(string); ok {
			return types.TypeString, nil
		}
		return types.TypeFloat, nil
	case *Call:
		fn, ok := Lookup(n.Func)
		if !ok {
			return "", newExprError(n.Pos, "Unknown function %q", n.Func)
		}
		if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
			return "", newExprError(n.Pos, "%s expects %s, got %d", fn.Name, arity(fn), len(n.Args))
		}
		arg_types := make([]types.Type, len(n.Args))
		for i, arg := range n.Args {
			t, err := check(arg, schema, uses)
			if err != nil {
				return "", err
			}
			arg_types[i] = t
		}
		t, err := fn.Check(arg_types)
		if err != nil {
			return "", newExprError(n.Pos, "Type error: %s", err)
		}
		return t, nil
	}
	return "", fmt.Errorf("unknown node %T", n)
}

func arity(fn *Function) string {
	switch {
	case fn.MaxArgs < 0:
		return fmt.Sprintf("at least %d arguments", fn.MinArgs)
	case fn.MinArgs == fn.MaxArgs && fn.MinArgs == 1:
		return "1 argument"
	case fn.MinArgs == fn.MaxArgs:
		return fmt.Sprintf("%d arguments", fn.MinArgs)
	}
	return fmt.Sprintf("%d to %d arguments", fn.MinArgs, fn.MaxArgs)
}

// Eval computes the expression for one row. A null input yields null.
func (c *Compiled) Eval(row types.Row) any {
	return eval(c.root, row)
}

func eval(n Node, row types.Row) any {
	switch n := n.(type) {
	case *ColumnRef:
		return row.Get(n.Column)
	case *Literal:
		return n.Value
	case *Call:
		fn, _ := Lookup(n.Func)
		args := make([]any, len(n.Args))
		for i, arg := range n.Args {
			v := eval(arg, row)
			if v == nil {
				return nil
			}
			args[i] = v
		}
		return fn.Eval(args)
	}
	return nil
}
