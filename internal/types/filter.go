package types

import "slices"

type FilterOp string

const (
	OpEq         FilterOp = "=="
	OpNe         FilterOp = "!="
	OpGt         FilterOp = ">"
	OpLt         FilterOp = "<"
	OpGe         FilterOp = ">="
	OpLe         FilterOp = "<="
	OpIn         FilterOp = "in"
	OpNotIn      FilterOp = "not in"
	OpContains   FilterOp = "contains"
	OpBeginsWith FilterOp = "begins with"
	OpEndsWith   FilterOp = "ends with"
	OpIsNull     FilterOp = "is null"
	OpIsNotNull  FilterOp = "is not null"
)

var (
	equalityOps   = []FilterOp{OpEq, OpNe, OpIn, OpNotIn, OpIsNull, OpIsNotNull}
	comparisonOps = append(slices.Clone(equalityOps), OpGt, OpLt, OpGe, OpLe)
	stringOps     = append(slices.Clone(comparisonOps), OpContains, OpBeginsWith, OpEndsWith)
)

func ValidFilterOps(t Type) []FilterOp {
	switch {
	case t == TypeString:
		return stringOps
	case t.IsNumeric(), t.IsTemporal():
		return comparisonOps
	}
	return equalityOps
}

func IsValidFilterOp(t Type, op FilterOp) bool {
	return slices.Contains(ValidFilterOps(t), op)
}

// IsUnary reports whether op ignores its operand.
func (op FilterOp) IsUnary() bool { return op == OpIsNull || op == OpIsNotNull }

// IsSet reports whether op expects a list operand.
func (op FilterOp) IsSet() bool { return op == OpIn || op == OpNotIn }
