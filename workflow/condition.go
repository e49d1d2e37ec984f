package workflow

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Operator is a comparison operator. The numeric codes are the wire values
// used by workflow templates.
type Operator int

const (
	OpEquals            Operator = 1
	OpNotEquals         Operator = 2
	OpLengthGreaterThan Operator = 3
	OpLengthLessThan    Operator = 4
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return o >= OpEquals && o <= OpLengthLessThan
}

func (o Operator) String() string {
	switch o {
	case OpEquals:
		return "equals"
	case OpNotEquals:
		return "notEquals"
	case OpLengthGreaterThan:
		return "lengthGreaterThan"
	case OpLengthLessThan:
		return "lengthLessThan"
	}
	return "operator(" + strconv.Itoa(int(o)) + ")"
}

// Logic is the combinator declared on a condition group. It is carried but
// not applied: a group is satisfied as soon as any comparison holds.
type Logic int

const (
	LogicAnd Logic = 1
	LogicOr  Logic = 2
)

// Comparison is one left-operator-right test.
type Comparison struct {
	Left     ValueRef
	Operator Operator
	Right    ValueRef
}

// ConditionGroup is an ordered list of comparisons.
type ConditionGroup struct {
	Comparisons []Comparison
	Logic       Logic
}

// EvaluateGroups returns BranchTrue for the first group with a satisfied
// comparison, otherwise BranchFalse. Groups are evaluated in order and
// evaluation stops at the first satisfied comparison.
func EvaluateGroups(groups []ConditionGroup, store *OutputStore) (string, error) {
	for _, g := range groups {
		for _, c := range g.Comparisons {
			ok, err := c.Evaluate(store)
			if err != nil {
				return "", err
			}
			if ok {
				return BranchTrue, nil
			}
		}
	}
	return BranchFalse, nil
}

// Evaluate resolves both operands and applies the operator.
func (c Comparison) Evaluate(store *OutputStore) (bool, error) {
	left, err := Resolve(c.Left, store)
	if err != nil {
		return false, err
	}
	right, err := Resolve(c.Right, store)
	if err != nil {
		return false, err
	}
	return Compare(c.Operator, left, right)
}

// Compare applies op to two resolved values.
func Compare(op Operator, left, right TypedValue) (bool, error) {
	switch op {
	case OpEquals:
		return valuesEqual(left, right), nil
	case OpNotEquals:
		return !valuesEqual(left, right), nil
	case OpLengthGreaterThan, OpLengthLessThan:
		n, err := length(left)
		if err != nil {
			return false, err
		}
		limit, err := numeric(right)
		if err != nil {
			return false, err
		}
		if op == OpLengthGreaterThan {
			return n > limit, nil
		}
		return n < limit, nil
	}
	return false, typeMismatch("unknown operator %s", op)
}

// valuesEqual is deep equality with integers and floats compared by value.
func valuesEqual(a, b TypedValue) bool {
	af, aNum := asFloat(a.Value)
	bf, bNum := asFloat(b.Value)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a.Value, b.Value)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// length is the rune count of a string or the size of a list or object.
func length(v TypedValue) (int64, error) {
	switch x := v.Value.(type) {
	case string:
		return int64(utf8.RuneCountInString(x)), nil
	case []any:
		return int64(len(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	}
	return 0, typeMismatch("length of %s value is undefined", typeName(v))
}

// numeric converts the right operand of a length comparison to an integer.
// Floats truncate toward zero and saturate outside the int64 range; NaN and
// infinities are rejected. Strings must hold a decimal integer.
func numeric(v TypedValue) (int64, error) {
	switch x := v.Value.(type) {
	case int64:
		return x, nil
	case float64:
		switch {
		case math.IsNaN(x) || math.IsInf(x, 0):
			return 0, typeMismatch("%v is not a finite number", x)
		case x >= 1<<63:
			return math.MaxInt64, nil
		case x < -(1 << 63):
			return math.MinInt64, nil
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, typeMismatch("%q is not an integer", x)
		}
		return n, nil
	}
	return 0, typeMismatch("%s value is not numeric", typeName(v))
}

func typeName(v TypedValue) string {
	if v.Type != "" {
		return string(v.Type)
	}
	if v.Value == nil {
		return "null"
	}
	return reflect.TypeOf(v.Value).String()
}
