package vm

import (
	"math/big"
)

// ---------------------------------------------------------------------------
// Generic numeric path
// ---------------------------------------------------------------------------

// The interpreter's arithmetic fast path handles two fixnums whose result
// is again a fixnum. Everything else lands here: fixnums that overflow,
// and boxed big integers carried as native-data wrappers. Results that fit
// the fixnum range are re-encoded as fixnums, so a value has exactly one
// canonical representation.

// toBig decodes a numeric value into a big.Int.
func (vm *VM) toBig(op string, v Value) (*big.Int, error) {
	if n, err := v.AsFixnum(); err == nil {
		return big.NewInt(n), nil
	}
	if x, ok := vm.natives.lookupData(v); ok {
		if z, ok := x.(*big.Int); ok {
			return z, nil
		}
	}
	return nil, &NotANumberError{Op: op, Got: v.Tag()}
}

// fromBig encodes a big.Int as a fixnum when it fits, otherwise as a
// native-data wrapper.
func (vm *VM) fromBig(z *big.Int) Value {
	if z.IsInt64() {
		if v, ok := TryFromFixnum(z.Int64()); ok {
			return v
		}
	}
	return vm.natives.registerData(z)
}

// slowArith performs the generic binary arithmetic for op on a and b.
func (vm *VM) slowArith(op Opcode, a, b Value) (Value, error) {
	name := op.Name()
	x, err := vm.toBig(name, a)
	if err != nil {
		return Nil, err
	}
	y, err := vm.toBig(name, b)
	if err != nil {
		return Nil, err
	}

	z := new(big.Int)
	switch op {
	case OpAdd:
		z.Add(x, y)
	case OpSubtract:
		z.Sub(x, y)
	case OpMultiply:
		z.Mul(x, y)
	case OpDivide:
		if y.Sign() == 0 {
			return Nil, ErrDivisionByZero
		}
		z.Quo(x, y)
	case OpPower:
		if y.Sign() < 0 {
			return Nil, &NotANumberError{Op: name, Got: b.Tag()}
		}
		z.Exp(x, y, nil)
	default:
		panic("slowArith: not an arithmetic opcode")
	}
	return vm.fromBig(z), nil
}

// arith dispatches binary arithmetic: the fixnum fast path guarded by a
// single BothFixnums comparison, then the generic path.
func (vm *VM) arith(op Opcode, a, b Value) (Value, error) {
	if a.BothFixnums(b) && !a.immediatep() && !b.immediatep() {
		x := int64(a) >> 2
		y := int64(b) >> 2
		switch op {
		case OpAdd:
			if v, ok := TryFromFixnum(x + y); ok {
				return v, nil
			}
		case OpSubtract:
			if v, ok := TryFromFixnum(x - y); ok {
				return v, nil
			}
		case OpMultiply:
			p := x * y
			// Overflow check: division recovers the operand only when the
			// multiplication did not wrap.
			if x == 0 || (p/x == y && p >= MinFixnum && p <= MaxFixnum) {
				if v, ok := TryFromFixnum(p); ok {
					return v, nil
				}
			}
		case OpDivide:
			if y == 0 {
				return Nil, ErrDivisionByZero
			}
			// MinFixnum / -1 overflows the fixnum range.
			if v, ok := TryFromFixnum(x / y); ok {
				return v, nil
			}
		}
	}
	return vm.slowArith(op, a, b)
}
