package runtime

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm2ir/il"
)

func f32(v uint64) float32 { return math.Float32frombits(uint32(v)) }
func f64(v uint64) float64 { return math.Float64frombits(v) }
func ff32(f float32) uint64 { return uint64(math.Float32bits(f)) }
func ff64(f float64) uint64 { return math.Float64bits(f) }

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// binaryOp evaluates an arithmetic or bitwise op on two operands of type t.
func binaryOp(op il.Op, t il.Type, a, b uint64) (uint64, *Trap) {
	switch t {
	case il.I32:
		r, trap := binary32(op, uint32(a), uint32(b))
		return uint64(r), trap
	case il.I64:
		return binary64(op, a, b)
	case il.F32:
		x, y := f32(a), f32(b)
		switch op {
		case il.OpAdd:
			return ff32(x + y), nil
		case il.OpSub:
			return ff32(x - y), nil
		case il.OpMul:
			return ff32(x * y), nil
		case il.OpDiv:
			return ff32(x / y), nil
		}
	case il.F64:
		x, y := f64(a), f64(b)
		switch op {
		case il.OpAdd:
			return ff64(x + y), nil
		case il.OpSub:
			return ff64(x - y), nil
		case il.OpMul:
			return ff64(x * y), nil
		case il.OpDiv:
			return ff64(x / y), nil
		}
	}
	return 0, &Trap{Code: TrapUnreachable, Message: "invalid operation " + op.String() + "." + t.String()}
}

func binary32(op il.Op, a, b uint32) (uint32, *Trap) {
	switch op {
	case il.OpAdd:
		return a + b, nil
	case il.OpSub:
		return a - b, nil
	case il.OpMul:
		return a * b, nil
	case il.OpDiv:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint32(int32(a) / int32(b)), nil
	case il.OpDivUn:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		return a / b, nil
	case il.OpRem:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		if int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case il.OpRemUn:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		return a % b, nil
	case il.OpAnd:
		return a & b, nil
	case il.OpOr:
		return a | b, nil
	case il.OpXor:
		return a ^ b, nil
	case il.OpShl:
		return a << (b & 31), nil
	case il.OpShr:
		return uint32(int32(a) >> (b & 31)), nil
	case il.OpShrUn:
		return a >> (b & 31), nil
	}
	return 0, &Trap{Code: TrapUnreachable, Message: "invalid operation " + op.String() + ".i32"}
}

func binary64(op il.Op, a, b uint64) (uint64, *Trap) {
	switch op {
	case il.OpAdd:
		return a + b, nil
	case il.OpSub:
		return a - b, nil
	case il.OpMul:
		return a * b, nil
	case il.OpDiv:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint64(int64(a) / int64(b)), nil
	case il.OpDivUn:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		return a / b, nil
	case il.OpRem:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		if int64(b) == -1 {
			return 0, nil
		}
		return uint64(int64(a) % int64(b)), nil
	case il.OpRemUn:
		if b == 0 {
			return 0, newTrap(TrapDivideByZero)
		}
		return a % b, nil
	case il.OpAnd:
		return a & b, nil
	case il.OpOr:
		return a | b, nil
	case il.OpXor:
		return a ^ b, nil
	case il.OpShl:
		return a << (b & 63), nil
	case il.OpShr:
		return uint64(int64(a) >> (b & 63)), nil
	case il.OpShrUn:
		return a >> (b & 63), nil
	}
	return 0, &Trap{Code: TrapUnreachable, Message: "invalid operation " + op.String() + ".i64"}
}

// compare evaluates a comparison. Float comparisons are false when either
// operand is NaN, except cne.
func compare(op il.Op, t il.Type, a, b uint64) bool {
	switch t {
	case il.I32:
		x, y := uint32(a), uint32(b)
		sx, sy := int32(x), int32(y)
		switch op {
		case il.OpCeq:
			return x == y
		case il.OpCne:
			return x != y
		case il.OpClt:
			return sx < sy
		case il.OpCltUn:
			return x < y
		case il.OpCgt:
			return sx > sy
		case il.OpCgtUn:
			return x > y
		case il.OpCle:
			return sx <= sy
		case il.OpCleUn:
			return x <= y
		case il.OpCge:
			return sx >= sy
		case il.OpCgeUn:
			return x >= y
		}
	case il.I64:
		sx, sy := int64(a), int64(b)
		switch op {
		case il.OpCeq:
			return a == b
		case il.OpCne:
			return a != b
		case il.OpClt:
			return sx < sy
		case il.OpCltUn:
			return a < b
		case il.OpCgt:
			return sx > sy
		case il.OpCgtUn:
			return a > b
		case il.OpCle:
			return sx <= sy
		case il.OpCleUn:
			return a <= b
		case il.OpCge:
			return sx >= sy
		case il.OpCgeUn:
			return a >= b
		}
	case il.F32, il.F64:
		var x, y float64
		if t == il.F32 {
			x, y = float64(f32(a)), float64(f32(b))
		} else {
			x, y = f64(a), f64(b)
		}
		switch op {
		case il.OpCeq:
			return x == y
		case il.OpCne:
			return x != y
		case il.OpClt:
			return x < y
		case il.OpCgt:
			return x > y
		case il.OpCle:
			return x <= y
		case il.OpCge:
			return x >= y
		}
	}
	return false
}

// convert performs the OpConv conversions.
func convert(kind il.Conv, from, to il.Type, v uint64) uint64 {
	switch kind {
	case il.ConvWrap:
		return uint64(uint32(v))
	case il.ConvExtendS:
		return uint64(int64(int32(v)))
	case il.ConvExtendU:
		return uint64(uint32(v))
	case il.ConvSignExt8:
		return narrow(to, int64(int8(v)))
	case il.ConvSignExt16:
		return narrow(to, int64(int16(v)))
	case il.ConvSignExt32:
		return narrow(to, int64(int32(v)))
	case il.ConvIntToFloatS:
		var x int64
		if from == il.I32 {
			x = int64(int32(v))
		} else {
			x = int64(v)
		}
		if to == il.F32 {
			return ff32(float32(x))
		}
		return ff64(float64(x))
	case il.ConvIntToFloatU:
		x := v
		if from == il.I32 {
			x = uint64(uint32(v))
		}
		if to == il.F32 {
			return ff32(float32(x))
		}
		return ff64(float64(x))
	case il.ConvDemote:
		return ff32(float32(f64(v)))
	case il.ConvPromote:
		return ff64(float64(f32(v)))
	}
	return v
}

// narrow stores a sign-extended value in the encoding of t.
func narrow(t il.Type, x int64) uint64 {
	if t == il.I32 {
		return uint64(uint32(x))
	}
	return uint64(x)
}

// float reads a float operand of type t as float64. f32 widens exactly.
func float(t il.Type, v uint64) float64 {
	if t == il.F32 {
		return float64(f32(v))
	}
	return f64(v)
}

func fromFloat(t il.Type, x float64) uint64 {
	if t == il.F32 {
		return ff32(float32(x))
	}
	return ff64(x)
}

// signBit returns the sign mask of float type t.
func signBit(t il.Type) uint64 {
	if t == il.F32 {
		return 1 << 31
	}
	return 1 << 63
}

// unary evaluates the single-operand intrinsics. Conversion intrinsics
// carry their source type in from.
func unary(fn il.Fn, from, t il.Type, v uint64) (uint64, *Trap) {
	switch fn {
	case il.FnClz:
		if t == il.I32 {
			return uint64(bits.LeadingZeros32(uint32(v))), nil
		}
		return uint64(bits.LeadingZeros64(v)), nil
	case il.FnCtz:
		if t == il.I32 {
			return uint64(bits.TrailingZeros32(uint32(v))), nil
		}
		return uint64(bits.TrailingZeros64(v)), nil
	case il.FnPopcnt:
		if t == il.I32 {
			return uint64(bits.OnesCount32(uint32(v))), nil
		}
		return uint64(bits.OnesCount64(v)), nil
	case il.FnAbs:
		return v &^ signBit(t), nil
	case il.FnNeg:
		return v ^ signBit(t), nil
	case il.FnSqrt:
		return fromFloat(t, math.Sqrt(float(t, v))), nil
	case il.FnCeil:
		return fromFloat(t, math.Ceil(float(t, v))), nil
	case il.FnFloor:
		return fromFloat(t, math.Floor(float(t, v))), nil
	case il.FnTrunc:
		return fromFloat(t, math.Trunc(float(t, v))), nil
	case il.FnNearest:
		return fromFloat(t, math.RoundToEven(float(t, v))), nil
	case il.FnTruncS, il.FnTruncU:
		return truncate(fn == il.FnTruncS, t, float(from, v))
	case il.FnTruncSatS, il.FnTruncSatU:
		return truncateSat(fn == il.FnTruncSatS, t, float(from, v)), nil
	case il.FnReinterpret:
		if t == il.I32 || t == il.F32 {
			return uint64(uint32(v)), nil
		}
		return v, nil
	}
	return 0, &Trap{Code: TrapUnreachable, Message: "invalid intrinsic " + fn.String()}
}

// binaryIntrinsic evaluates rotations and the float min, max and copysign.
func binaryIntrinsic(fn il.Fn, t il.Type, a, b uint64) (uint64, *Trap) {
	switch fn {
	case il.FnRotl, il.FnRotr:
		k := int(b)
		if fn == il.FnRotr {
			k = -k
		}
		if t == il.I32 {
			return uint64(bits.RotateLeft32(uint32(a), k)), nil
		}
		return bits.RotateLeft64(a, k), nil
	case il.FnMin:
		return fromFloat(t, math.Min(float(t, a), float(t, b))), nil
	case il.FnMax:
		return fromFloat(t, math.Max(float(t, a), float(t, b))), nil
	case il.FnCopysign:
		sign := signBit(t)
		return a&^sign | b&sign, nil
	}
	return 0, &Trap{Code: TrapUnreachable, Message: "invalid intrinsic " + fn.String()}
}

// truncate converts x to an integer of type t, trapping on NaN and on
// results outside the target range.
func truncate(signed bool, t il.Type, x float64) (uint64, *Trap) {
	if math.IsNaN(x) {
		return 0, newTrap(TrapInvalidConversion)
	}
	x = math.Trunc(x)
	switch {
	case t == il.I32 && signed:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint64(uint32(int32(x))), nil
	case t == il.I32:
		if x < 0 || x > math.MaxUint32 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint64(uint32(x)), nil
	case signed:
		if x < math.MinInt64 || x >= 1<<63 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint64(int64(x)), nil
	default:
		if x < 0 || x >= 1<<64 {
			return 0, newTrap(TrapIntegerOverflow)
		}
		return uint64(x), nil
	}
}

// truncateSat converts x to an integer of type t, clamping out of range
// values and mapping NaN to zero.
func truncateSat(signed bool, t il.Type, x float64) uint64 {
	if math.IsNaN(x) {
		return 0
	}
	x = math.Trunc(x)
	switch {
	case t == il.I32 && signed:
		switch {
		case x < math.MinInt32:
			return 1 << 31
		case x > math.MaxInt32:
			return math.MaxInt32
		}
		return uint64(uint32(int32(x)))
	case t == il.I32:
		switch {
		case x < 0:
			return 0
		case x > math.MaxUint32:
			return math.MaxUint32
		}
		return uint64(uint32(x))
	case signed:
		switch {
		case x < math.MinInt64:
			return 1 << 63
		case x >= 1<<63:
			return math.MaxInt64
		}
		return uint64(int64(x))
	default:
		switch {
		case x < 0:
			return 0
		case x >= 1<<64:
			return math.MaxUint64
		}
		return uint64(x)
	}
}
