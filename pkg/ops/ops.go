// Package ops is the single operator-semantics table spec.md §4.7
// describes as shared between the tree-walking evaluator and the
// bytecode VM ("both use the same operator dispatch table"). Neither
// back-end is allowed its own copy of these rules — a back-end-specific
// arithmetic bug would break spec.md §8's "evaluator result = VM
// result" property.
package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/gaarutyunov/flx/pkg/token"
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

var (
	ErrDivByZero  = errors.New("division by zero")
	ErrBadOperand = errors.New("operand type mismatch")
)

func toFloat(v *value.Value) decimal.Decimal {
	if v.Tag == types.Int {
		return decimal.NewFromInt(v.Int)
	}
	return v.Float
}

func numeric(v *value.Value) bool { return v.Tag == types.Int || v.Tag == types.Float }

// CompoundBase maps a compound-assignment token to the base binary
// operator it applies before storing back (spec.md §4.7: "apply
// operator and store back; same rules as the base operator").
func CompoundBase(op token.Kind) (token.Kind, bool) {
	switch op {
	case token.PlusEq:
		return token.Plus, true
	case token.MinusEq:
		return token.Minus, true
	case token.StarEq:
		return token.Star, true
	case token.SlashEq:
		return token.Slash, true
	case token.PercentEq:
		return token.Percent, true
	case token.SlashPercentEq:
		return token.SlashPercent, true
	case token.StarStarEq:
		return token.StarStar, true
	case token.ShlEq:
		return token.Shl, true
	case token.ShrEq:
		return token.Shr, true
	case token.AmpEq:
		return token.Amp, true
	case token.PipeEq:
		return token.Pipe, true
	case token.CaretEq:
		return token.Caret, true
	default:
		return token.Invalid, false
	}
}

// Binary evaluates l op r per spec.md §4.7.
func Binary(op token.Kind, l, r *value.Value) (*value.Value, error) {
	switch {
	case op == token.Plus:
		return add(l, r)
	case op == token.Minus:
		return numBinary(l, r, func(a, b int64) int64 { return a - b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) })
	case op == token.Star:
		return numBinary(l, r, func(a, b int64) int64 { return a * b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) })
	case op == token.Slash:
		return divide(l, r)
	case op == token.Percent:
		return modulo(l, r)
	case op == token.SlashPercent:
		return floorDivide(l, r)
	case op == token.StarStar:
		return power(l, r)
	case token.RelationalOp[op]:
		return relational(op, l, r)
	case token.EqualityOp[op]:
		return equality(op, l, r)
	case token.ThreeWayOp[op]:
		return threeWay(l, r)
	case token.ShiftOp[op]:
		return shift(op, l, r)
	case op == token.Amp || op == token.Pipe || op == token.Caret:
		return bitwise(op, l, r)
	case op == token.AndAnd || op == token.And:
		return logical(op, l, r)
	case op == token.OrOr || op == token.Or:
		return logical(op, l, r)
	default:
		return nil, fmt.Errorf("unsupported binary operator %s", op)
	}
}

// Unary evaluates `op operand` for the prefix operators of spec.md
// §4.2's unary layer (`+ - not ~ ref unref`).
func Unary(op token.Kind, v *value.Value) (*value.Value, error) {
	switch op {
	case token.Minus:
		if !numeric(v) {
			return nil, fmt.Errorf("%w: unary - on %s", ErrBadOperand, v.Tag)
		}
		if v.Tag == types.Int {
			return value.NewInt(-v.Int), nil
		}
		return value.NewFloat(v.Float.Neg()), nil
	case token.Plus:
		if !numeric(v) {
			return nil, fmt.Errorf("%w: unary + on %s", ErrBadOperand, v.Tag)
		}
		return v, nil
	case token.Not:
		if v.Tag != types.Bool {
			return nil, fmt.Errorf("%w: not on %s", ErrBadOperand, v.Tag)
		}
		return value.NewBool(!v.Bool), nil
	case token.Tilde:
		if v.Tag != types.Int {
			return nil, fmt.Errorf("%w: ~ on %s", ErrBadOperand, v.Tag)
		}
		return value.NewInt(^v.Int), nil
	case token.Ref:
		cp := *v
		cp.UseRef = true
		return &cp, nil
	case token.Unref:
		cp := *v
		cp.UseRef = false
		return &cp, nil
	default:
		return nil, fmt.Errorf("unsupported unary operator %s", op)
	}
}

func add(l, r *value.Value) (*value.Value, error) {
	switch {
	case l.Tag == types.String && r.Tag == types.String:
		return value.NewString(l.StringValue() + r.StringValue()), nil
	case l.Tag == types.String && r.Tag == types.Char:
		return value.NewString(l.StringValue() + string(r.Char)), nil
	case l.Tag == types.Char && r.Tag == types.String:
		return value.NewString(string(l.Char) + r.StringValue()), nil
	case l.Tag == types.Array && r.Tag == types.Array:
		elems := make([]*value.Value, 0, len(l.Elems)+len(r.Elems))
		elems = append(elems, l.Elems...)
		elems = append(elems, r.Elems...)
		return value.NewArray(elems, types.Any), nil
	case numeric(l) && numeric(r):
		return numBinary(l, r, func(a, b int64) int64 { return a + b }, func(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) })
	default:
		return nil, fmt.Errorf("%w: %s + %s", ErrBadOperand, l.Tag, r.Tag)
	}
}

func numBinary(l, r *value.Value, intOp func(a, b int64) int64, floatOp func(a, b decimal.Decimal) decimal.Decimal) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if l.Tag == types.Int && r.Tag == types.Int {
		return value.NewInt(intOp(l.Int, r.Int)), nil
	}
	return value.NewFloat(floatOp(toFloat(l), toFloat(r))), nil
}

func divide(l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: %s / %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if l.Tag == types.Int && r.Tag == types.Int {
		if r.Int == 0 {
			return nil, ErrDivByZero
		}
		return value.NewInt(l.Int / r.Int), nil
	}
	rf := toFloat(r)
	if rf.IsZero() {
		return nil, ErrDivByZero
	}
	return value.NewFloat(toFloat(l).Div(rf)), nil
}

func modulo(l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: %s %% %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if l.Tag == types.Int && r.Tag == types.Int {
		if r.Int == 0 {
			return nil, ErrDivByZero
		}
		return value.NewInt(l.Int % r.Int), nil
	}
	rf := toFloat(r)
	if rf.IsZero() {
		return nil, ErrDivByZero
	}
	return value.NewFloat(toFloat(l).Mod(rf)), nil
}

// floorDivide implements `/%`: floor division (spec.md §4.7: "/% is
// floor division").
func floorDivide(l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: %s /%% %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if l.Tag == types.Int && r.Tag == types.Int {
		if r.Int == 0 {
			return nil, ErrDivByZero
		}
		q := l.Int / r.Int
		if (l.Int%r.Int != 0) && ((l.Int < 0) != (r.Int < 0)) {
			q--
		}
		return value.NewInt(q), nil
	}
	rf := toFloat(r)
	if rf.IsZero() {
		return nil, ErrDivByZero
	}
	lf := toFloat(l)
	q := lf.Div(rf).Floor()
	return value.NewFloat(q), nil
}

func power(l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: %s ** %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if l.Tag == types.Int && r.Tag == types.Int && r.Int >= 0 {
		return value.NewInt(intPow(l.Int, r.Int)), nil
	}
	lf, _ := toFloat(l).Float64()
	rf, _ := toFloat(r).Float64()
	return value.NewFloat(decimal.NewFromFloat(math.Pow(lf, rf))), nil
}

func intPow(base, exp int64) int64 {
	result := int64(1)
	for i := int64(0); i < exp; i++ {
		result *= base
	}
	return result
}

func relational(op token.Kind, l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: relational on %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	cmp := toFloat(l).Cmp(toFloat(r))
	var b bool
	switch op {
	case token.Lt:
		b = cmp < 0
	case token.Le:
		b = cmp <= 0
	case token.Gt:
		b = cmp > 0
	case token.Ge:
		b = cmp >= 0
	}
	return value.NewBool(b), nil
}

// equality implements spec.md §4.7: reference identity for use_ref
// values, structural otherwise, with the Void special case, defined on
// every type (not just numerics).
func equality(op token.Kind, l, r *value.Value) (*value.Value, error) {
	eq := value.Equal(l, r)
	if op == token.NotEq {
		eq = !eq
	}
	return value.NewBool(eq), nil
}

func threeWay(l, r *value.Value) (*value.Value, error) {
	if !numeric(l) || !numeric(r) {
		return nil, fmt.Errorf("%w: <=> on %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	cmp := toFloat(l).Cmp(toFloat(r))
	switch {
	case cmp < 0:
		return value.NewInt(-1), nil
	case cmp > 0:
		return value.NewInt(1), nil
	default:
		return value.NewInt(0), nil
	}
}

func shift(op token.Kind, l, r *value.Value) (*value.Value, error) {
	if l.Tag != types.Int || r.Tag != types.Int {
		return nil, fmt.Errorf("%w: shift on %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	if op == token.Shl {
		return value.NewInt(l.Int << uint64(r.Int)), nil
	}
	return value.NewInt(l.Int >> uint64(r.Int)), nil
}

func bitwise(op token.Kind, l, r *value.Value) (*value.Value, error) {
	if l.Tag != types.Int || r.Tag != types.Int {
		return nil, fmt.Errorf("%w: bitwise on %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	switch op {
	case token.Amp:
		return value.NewInt(l.Int & r.Int), nil
	case token.Pipe:
		return value.NewInt(l.Int | r.Int), nil
	case token.Caret:
		return value.NewInt(l.Int ^ r.Int), nil
	default:
		return nil, fmt.Errorf("unsupported bitwise operator %s", op)
	}
}

func logical(op token.Kind, l, r *value.Value) (*value.Value, error) {
	if l.Tag != types.Bool || r.Tag != types.Bool {
		return nil, fmt.Errorf("%w: logical on %s, %s", ErrBadOperand, l.Tag, r.Tag)
	}
	switch op {
	case token.AndAnd, token.And:
		return value.NewBool(l.Bool && r.Bool), nil
	default:
		return value.NewBool(l.Bool || r.Bool), nil
	}
}

// IncDecDelta returns the ±1 value.Value used to desugar `++`/`--` into
// a compound add (spec.md §4.7: "++/-- are sugar for ±= 1").
func IncDecDelta(op token.Kind, current *value.Value) (*value.Value, error) {
	if !numeric(current) {
		return nil, fmt.Errorf("%w: ++/-- on %s", ErrBadOperand, current.Tag)
	}
	sign := int64(1)
	if op == token.Dec {
		sign = -1
	}
	if current.Tag == types.Int {
		return value.NewInt(sign), nil
	}
	return value.NewFloat(decimal.NewFromInt(sign)), nil
}

// Coerce applies the declaration-time promotions of spec.md §4.5
// ("Int→Float, Char→String"): when v's tag differs from want but a
// promotion rule covers the pair, return the promoted value; otherwise
// v unchanged.
func Coerce(v *value.Value, want types.Tag) *value.Value {
	switch {
	case v.Tag == types.Int && want == types.Float:
		return value.NewFloat(decimal.NewFromInt(v.Int))
	case v.Tag == types.Char && want == types.String:
		return value.NewString(string(v.Char))
	default:
		return v
	}
}
