package codec

import (
	"strings"

	"memhunt/process"

	"golang.org/x/exp/constraints"
)

// Operator is a comparison applied between a candidate and a literal
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreater
	OpLess
	OpGreaterEqual
	OpLessEqual
	opRange
)

var operatorSymbols = []string{"=", "!=", ">", "<", ">=", "<="}

// Operators lists the symbols accepted by ParseOperator
func Operators() []string {
	return append([]string(nil), operatorSymbols...)
}

// ParseOperator accepts "=", "==", "!=", ">", "<", ">=" and "<=". The empty string means "=".
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "==":
		return OpEqual, nil
	}
	for i, sym := range operatorSymbols {
		if sym == s {
			return Operator(i), nil
		}
	}
	return OpEqual, &process.InvalidCriteriaError{Input: s, Reason: "unknown operator"}
}

func (o Operator) String() string {
	if int(o) < len(operatorSymbols) {
		return operatorSymbols[o]
	}
	if o == opRange {
		return ".."
	}
	return "?"
}

// Predicate is a parsed comparison. Range predicates hold both bounds.
type Predicate struct {
	Op    Operator
	Value Number
	High  Number
}

// ParsePredicate parses literal as type t and pairs it with op
func ParsePredicate(literal string, t ValueType, op Operator) (Predicate, error) {
	v, err := ParseLiteral(literal, t)
	if err != nil {
		return Predicate{}, err
	}
	if op >= opRange {
		return Predicate{}, &process.InvalidCriteriaError{Input: op.String(), Reason: "unknown operator"}
	}
	return Predicate{Op: op, Value: v}, nil
}

// RangePredicate matches low <= value <= high
func RangePredicate(low, high string, t ValueType) (Predicate, error) {
	lo, err := ParseLiteral(low, t)
	if err != nil {
		return Predicate{}, err
	}
	hi, err := ParseLiteral(high, t)
	if err != nil {
		return Predicate{}, err
	}
	if lo.Float() > hi.Float() {
		lo, hi = hi, lo
	}
	return Predicate{Op: opRange, Value: lo, High: hi}, nil
}

func (p Predicate) IsRange() bool { return p.Op == opRange }

// Evaluate reports whether candidate satisfies p. Floats compare exactly, with
// no epsilon, so "find exact value" means bit-for-bit equal after rounding to
// the scanned width. An Invalid candidate never matches.
func Evaluate(candidate Number, p Predicate) bool {
	if !candidate.Valid() || !p.Value.Valid() {
		return false
	}

	if candidate.typ.IsFloat() {
		if p.Op == opRange {
			return compare(candidate.f, p.Value.Float(), OpGreaterEqual) &&
				compare(candidate.f, p.High.Float(), OpLessEqual)
		}
		return compare(candidate.f, p.Value.Float(), p.Op)
	}

	if p.Op == opRange {
		return compare(candidate.i, p.Value.Int(), OpGreaterEqual) &&
			compare(candidate.i, p.High.Int(), OpLessEqual)
	}
	return compare(candidate.i, p.Value.Int(), p.Op)
}

// Matches is Evaluate with the predicate as receiver
func (p Predicate) Matches(candidate Number) bool {
	return Evaluate(candidate, p)
}

func compare[T constraints.Integer | constraints.Float](a, b T, op Operator) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpGreater:
		return a > b
	case OpLess:
		return a < b
	case OpGreaterEqual:
		return a >= b
	case OpLessEqual:
		return a <= b
	}
	return false
}
