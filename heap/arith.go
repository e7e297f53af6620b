package heap

import (
	"bytes"
	"fmt"
	"math"
)

// Add returns a + b.
func Add(a, b Value) (Value, error) {
	if err := numeric("add", a, b); err != nil {
		return Nil, err
	}
	if a.kind == KindInt && b.kind == KindInt {
		x, y := a.AsInt(), b.AsInt()
		r := x + y
		if (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0) {
			return Nil, overflow("add", a, b)
		}
		return Int(r), nil
	}
	return Float(a.AsFloat() + b.AsFloat()), nil
}

// Sub returns a - b.
func Sub(a, b Value) (Value, error) {
	if err := numeric("sub", a, b); err != nil {
		return Nil, err
	}
	if a.kind == KindInt && b.kind == KindInt {
		x, y := a.AsInt(), b.AsInt()
		r := x - y
		if (y < 0 && r < x) || (y > 0 && r > x) {
			return Nil, overflow("sub", a, b)
		}
		return Int(r), nil
	}
	return Float(a.AsFloat() - b.AsFloat()), nil
}

// Mul returns a * b.
func Mul(a, b Value) (Value, error) {
	if err := numeric("mul", a, b); err != nil {
		return Nil, err
	}
	if a.kind == KindInt && b.kind == KindInt {
		r, ok := mulInt(a.AsInt(), b.AsInt())
		if !ok {
			return Nil, overflow("mul", a, b)
		}
		return Int(r), nil
	}
	return Float(a.AsFloat() * b.AsFloat()), nil
}

// Div returns a / b. Integer division truncates toward zero.
func Div(a, b Value) (Value, error) {
	if err := numeric("div", a, b); err != nil {
		return Nil, err
	}
	if isZero(b) {
		return Nil, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	if a.kind == KindInt && b.kind == KindInt {
		x, y := a.AsInt(), b.AsInt()
		if x == math.MinInt64 && y == -1 {
			return Nil, overflow("div", a, b)
		}
		return Int(x / y), nil
	}
	return Float(a.AsFloat() / b.AsFloat()), nil
}

// Mod returns the remainder of a / b with the sign of a.
func Mod(a, b Value) (Value, error) {
	if err := numeric("mod", a, b); err != nil {
		return Nil, err
	}
	if isZero(b) {
		return Nil, fmt.Errorf("%w: modulo by zero", ErrArithmetic)
	}
	if a.kind == KindInt && b.kind == KindInt {
		x, y := a.AsInt(), b.AsInt()
		if y == -1 {
			return Int(0), nil
		}
		return Int(x % y), nil
	}
	return Float(math.Mod(a.AsFloat(), b.AsFloat())), nil
}

// Neg returns -a.
func Neg(a Value) (Value, error) {
	switch a.kind {
	case KindInt:
		if a.AsInt() == math.MinInt64 {
			return Nil, fmt.Errorf("%w: integer overflow in neg %s", ErrArithmetic, a)
		}
		return Int(-a.AsInt()), nil
	case KindFloat:
		return Float(-a.AsFloat()), nil
	default:
		return Nil, fmt.Errorf("%w: cannot neg %s", ErrType, a.kind)
	}
}

// Pow returns a raised to b. Integer operands with a negative exponent
// produce a Float.
func Pow(a, b Value) (Value, error) {
	if err := numeric("exp", a, b); err != nil {
		return Nil, err
	}
	if a.kind != KindInt || b.kind != KindInt || b.AsInt() < 0 {
		return Float(math.Pow(a.AsFloat(), b.AsFloat())), nil
	}

	base, exp := a.AsInt(), b.AsInt()
	result := int64(1)
	for exp > 0 {
		var ok bool
		if exp&1 == 1 {
			if result, ok = mulInt(result, base); !ok {
				return Nil, overflow("exp", a, b)
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, ok = mulInt(base, base); !ok {
				return Nil, overflow("exp", a, b)
			}
		}
	}
	return Int(result), nil
}

// Equal reports whether two values are equal. Numbers compare by value
// across Int and Float, strings by content, other references by identity.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.AsInt() == b.AsInt()
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindRef:
		if a.obj == b.obj {
			return true
		}
		if a.obj.kind == ObjStr && b.obj.kind == ObjStr {
			return bytes.Equal(a.obj.str, b.obj.str)
		}
		return false
	default:
		return a.bits == b.bits
	}
}

// Compare orders two numbers or two strings, returning -1, 0 or +1.
func Compare(a, b Value) (int, error) {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			x, y := a.AsInt(), b.AsInt()
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		case x == y:
			return 0, nil
		}
		return 0, fmt.Errorf("%w: NaN is unordered", ErrType)
	}
	if isStr(a) && isStr(b) {
		return bytes.Compare(a.obj.str, b.obj.str), nil
	}
	return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrType, a.kind, b.kind)
}

// Not negates a Bool.
func Not(a Value) (Value, error) {
	if a.kind != KindBool {
		return Nil, fmt.Errorf("%w: cannot not %s", ErrType, a.kind)
	}
	return Bool(!a.AsBool()), nil
}

func numeric(op string, a, b Value) error {
	if !a.IsNumeric() || !b.IsNumeric() {
		return fmt.Errorf("%w: cannot %s %s and %s", ErrType, op, a.kind, b.kind)
	}
	return nil
}

func overflow(op string, a, b Value) error {
	return fmt.Errorf("%w: integer overflow in %s %s %s", ErrArithmetic, a, op, b)
}

func isZero(v Value) bool {
	if v.kind == KindInt {
		return v.AsInt() == 0
	}
	return v.AsFloat() == 0
}

func isStr(v Value) bool {
	return v.kind == KindRef && v.obj != nil && v.obj.kind == ObjStr
}

func mulInt(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	r := x * y
	if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return 0, false
	}
	return r, true
}
