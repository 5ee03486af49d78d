package expression

import (
	"errors"

	"github.com/tobsdb/pivot/internal/types"
)

// Validation is the outcome of checking a set of named expressions.
// Every name lands in exactly one of the two maps.
type Validation struct {
	ExpressionSchema map[string]types.Type `json:"expression_schema"`
	Errors           map[string]*ExprError `json:"errors"`
}

// Validate type-checks each expression against schema without failing on the first bad one.
func Validate(exprs map[string]string, schema *types.Schema) *Validation {
	return ValidateWith(exprs, schema, func(src string) (*Compiled, error) {
		return Compile(src, schema)
	})
}

// ValidateWith is Validate with a caller-provided compiler, for cached compilation.
func ValidateWith(exprs map[string]string, schema *types.Schema, compile func(string) (*Compiled, error)) *Validation {
	res := &Validation{
		ExpressionSchema: map[string]types.Type{},
		Errors:           map[string]*ExprError{},
	}
	for name, src := range exprs {
		if schema.Has(name) {
			res.Errors[name] = &ExprError{Message: "Expression name \"" + name + "\" collides with a table column"}
			continue
		}
		c, err := compile(src)
		if err != nil {
			res.Errors[name] = AsExprError(err)
			continue
		}
		res.ExpressionSchema[name] = c.Type
	}
	return res
}

// AsExprError wraps err as an ExprError, positioned at the start when it has no location.
func AsExprError(err error) *ExprError {
	var ee *ExprError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExprError{Message: err.Error()}
}
