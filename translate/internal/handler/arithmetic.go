package handler

import (
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// BinaryOpHandler handles operations that pop two operands of Type and
// push one of the same type.
//
// Signed and unsigned variants are distinct il ops (div vs div.un), so
// every WASM arithmetic opcode maps to exactly one il instruction.
type BinaryOpHandler struct {
	Op   il.Op
	Type wasm.ValType
}

func (h BinaryOpHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	if err := ctx.PopArgs([]wasm.ValType{h.Type, h.Type}); err != nil {
		return err
	}
	ctx.Emit.Op(h.Op, ILType(h.Type))
	ctx.Push(h.Type)
	return nil
}

// CompareHandler handles comparisons. Operands are of Type; the result is
// always an i32 holding 0 or 1.
//
// Float lt/gt/le/ge use the direct il comparisons, which are false when
// either operand is NaN. They are never formed by negating the opposite
// comparison.
type CompareHandler struct {
	Op   il.Op
	Type wasm.ValType
}

func (h CompareHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	if err := ctx.PopArgs([]wasm.ValType{h.Type, h.Type}); err != nil {
		return err
	}
	ctx.Emit.Op(h.Op, ILType(h.Type))
	ctx.Push(wasm.ValI32)
	return nil
}

// EqzHandler lowers eqz to a comparison against zero.
type EqzHandler struct {
	Type wasm.ValType
}

func (h EqzHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	if err := ctx.PopExpect(h.Type); err != nil {
		return err
	}
	t := ILType(h.Type)
	ctx.Emit.Const(t, 0).Op(il.OpCeq, t)
	ctx.Push(wasm.ValI32)
	return nil
}

// IntrinsicHandler maps an operator with no direct il op to a library
// routine: bit counting, rotation, and the float rounding, sign and
// min/max family.
type IntrinsicHandler struct {
	Fn   il.Fn
	Type wasm.ValType
}

func (h IntrinsicHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	args := make([]wasm.ValType, h.Fn.Arity())
	for i := range args {
		args[i] = h.Type
	}
	if err := ctx.PopArgs(args); err != nil {
		return err
	}
	ctx.Emit.Intrinsic(h.Fn, ILType(h.Type))
	ctx.Push(h.Type)
	return nil
}

type binaryOp struct {
	opcode byte
	op     il.Op
	name   string
}

type intrinsicOp struct {
	opcode byte
	fn     il.Fn
	name   string
}

var binaryOps = map[wasm.ValType][]binaryOp{
	wasm.ValI32: {
		{wasm.OpI32Add, il.OpAdd, "i32.add"},
		{wasm.OpI32Sub, il.OpSub, "i32.sub"},
		{wasm.OpI32Mul, il.OpMul, "i32.mul"},
		{wasm.OpI32DivS, il.OpDiv, "i32.div_s"},
		{wasm.OpI32DivU, il.OpDivUn, "i32.div_u"},
		{wasm.OpI32RemS, il.OpRem, "i32.rem_s"},
		{wasm.OpI32RemU, il.OpRemUn, "i32.rem_u"},
		{wasm.OpI32And, il.OpAnd, "i32.and"},
		{wasm.OpI32Or, il.OpOr, "i32.or"},
		{wasm.OpI32Xor, il.OpXor, "i32.xor"},
		{wasm.OpI32Shl, il.OpShl, "i32.shl"},
		{wasm.OpI32ShrS, il.OpShr, "i32.shr_s"},
		{wasm.OpI32ShrU, il.OpShrUn, "i32.shr_u"},
	},
	wasm.ValI64: {
		{wasm.OpI64Add, il.OpAdd, "i64.add"},
		{wasm.OpI64Sub, il.OpSub, "i64.sub"},
		{wasm.OpI64Mul, il.OpMul, "i64.mul"},
		{wasm.OpI64DivS, il.OpDiv, "i64.div_s"},
		{wasm.OpI64DivU, il.OpDivUn, "i64.div_u"},
		{wasm.OpI64RemS, il.OpRem, "i64.rem_s"},
		{wasm.OpI64RemU, il.OpRemUn, "i64.rem_u"},
		{wasm.OpI64And, il.OpAnd, "i64.and"},
		{wasm.OpI64Or, il.OpOr, "i64.or"},
		{wasm.OpI64Xor, il.OpXor, "i64.xor"},
		{wasm.OpI64Shl, il.OpShl, "i64.shl"},
		{wasm.OpI64ShrS, il.OpShr, "i64.shr_s"},
		{wasm.OpI64ShrU, il.OpShrUn, "i64.shr_u"},
	},
	wasm.ValF32: {
		{wasm.OpF32Add, il.OpAdd, "f32.add"},
		{wasm.OpF32Sub, il.OpSub, "f32.sub"},
		{wasm.OpF32Mul, il.OpMul, "f32.mul"},
		{wasm.OpF32Div, il.OpDiv, "f32.div"},
	},
	wasm.ValF64: {
		{wasm.OpF64Add, il.OpAdd, "f64.add"},
		{wasm.OpF64Sub, il.OpSub, "f64.sub"},
		{wasm.OpF64Mul, il.OpMul, "f64.mul"},
		{wasm.OpF64Div, il.OpDiv, "f64.div"},
	},
}

var compareOps = map[wasm.ValType][]binaryOp{
	wasm.ValI32: {
		{wasm.OpI32Eq, il.OpCeq, "i32.eq"},
		{wasm.OpI32Ne, il.OpCne, "i32.ne"},
		{wasm.OpI32LtS, il.OpClt, "i32.lt_s"},
		{wasm.OpI32LtU, il.OpCltUn, "i32.lt_u"},
		{wasm.OpI32GtS, il.OpCgt, "i32.gt_s"},
		{wasm.OpI32GtU, il.OpCgtUn, "i32.gt_u"},
		{wasm.OpI32LeS, il.OpCle, "i32.le_s"},
		{wasm.OpI32LeU, il.OpCleUn, "i32.le_u"},
		{wasm.OpI32GeS, il.OpCge, "i32.ge_s"},
		{wasm.OpI32GeU, il.OpCgeUn, "i32.ge_u"},
	},
	wasm.ValI64: {
		{wasm.OpI64Eq, il.OpCeq, "i64.eq"},
		{wasm.OpI64Ne, il.OpCne, "i64.ne"},
		{wasm.OpI64LtS, il.OpClt, "i64.lt_s"},
		{wasm.OpI64LtU, il.OpCltUn, "i64.lt_u"},
		{wasm.OpI64GtS, il.OpCgt, "i64.gt_s"},
		{wasm.OpI64GtU, il.OpCgtUn, "i64.gt_u"},
		{wasm.OpI64LeS, il.OpCle, "i64.le_s"},
		{wasm.OpI64LeU, il.OpCleUn, "i64.le_u"},
		{wasm.OpI64GeS, il.OpCge, "i64.ge_s"},
		{wasm.OpI64GeU, il.OpCgeUn, "i64.ge_u"},
	},
	wasm.ValF32: {
		{wasm.OpF32Eq, il.OpCeq, "f32.eq"},
		{wasm.OpF32Ne, il.OpCne, "f32.ne"},
		{wasm.OpF32Lt, il.OpClt, "f32.lt"},
		{wasm.OpF32Gt, il.OpCgt, "f32.gt"},
		{wasm.OpF32Le, il.OpCle, "f32.le"},
		{wasm.OpF32Ge, il.OpCge, "f32.ge"},
	},
	wasm.ValF64: {
		{wasm.OpF64Eq, il.OpCeq, "f64.eq"},
		{wasm.OpF64Ne, il.OpCne, "f64.ne"},
		{wasm.OpF64Lt, il.OpClt, "f64.lt"},
		{wasm.OpF64Gt, il.OpCgt, "f64.gt"},
		{wasm.OpF64Le, il.OpCle, "f64.le"},
		{wasm.OpF64Ge, il.OpCge, "f64.ge"},
	},
}

var intrinsicOps = map[wasm.ValType][]intrinsicOp{
	wasm.ValI32: {
		{wasm.OpI32Clz, il.FnClz, "i32.clz"},
		{wasm.OpI32Ctz, il.FnCtz, "i32.ctz"},
		{wasm.OpI32Popcnt, il.FnPopcnt, "i32.popcnt"},
		{wasm.OpI32Rotl, il.FnRotl, "i32.rotl"},
		{wasm.OpI32Rotr, il.FnRotr, "i32.rotr"},
	},
	wasm.ValI64: {
		{wasm.OpI64Clz, il.FnClz, "i64.clz"},
		{wasm.OpI64Ctz, il.FnCtz, "i64.ctz"},
		{wasm.OpI64Popcnt, il.FnPopcnt, "i64.popcnt"},
		{wasm.OpI64Rotl, il.FnRotl, "i64.rotl"},
		{wasm.OpI64Rotr, il.FnRotr, "i64.rotr"},
	},
	wasm.ValF32: {
		{wasm.OpF32Abs, il.FnAbs, "f32.abs"},
		{wasm.OpF32Neg, il.FnNeg, "f32.neg"},
		{wasm.OpF32Ceil, il.FnCeil, "f32.ceil"},
		{wasm.OpF32Floor, il.FnFloor, "f32.floor"},
		{wasm.OpF32Trunc, il.FnTrunc, "f32.trunc"},
		{wasm.OpF32Nearest, il.FnNearest, "f32.nearest"},
		{wasm.OpF32Sqrt, il.FnSqrt, "f32.sqrt"},
		{wasm.OpF32Min, il.FnMin, "f32.min"},
		{wasm.OpF32Max, il.FnMax, "f32.max"},
		{wasm.OpF32Copysign, il.FnCopysign, "f32.copysign"},
	},
	wasm.ValF64: {
		{wasm.OpF64Abs, il.FnAbs, "f64.abs"},
		{wasm.OpF64Neg, il.FnNeg, "f64.neg"},
		{wasm.OpF64Ceil, il.FnCeil, "f64.ceil"},
		{wasm.OpF64Floor, il.FnFloor, "f64.floor"},
		{wasm.OpF64Trunc, il.FnTrunc, "f64.trunc"},
		{wasm.OpF64Nearest, il.FnNearest, "f64.nearest"},
		{wasm.OpF64Sqrt, il.FnSqrt, "f64.sqrt"},
		{wasm.OpF64Min, il.FnMin, "f64.min"},
		{wasm.OpF64Max, il.FnMax, "f64.max"},
		{wasm.OpF64Copysign, il.FnCopysign, "f64.copysign"},
	},
}

// RegisterArithmeticHandlers registers numeric, comparison and eqz handlers.
func RegisterArithmeticHandlers(r *Registry) {
	for t, ops := range binaryOps {
		for _, o := range ops {
			r.Register(o.opcode, BinaryOpHandler{Op: o.op, Type: t}, o.name)
		}
	}
	for t, ops := range compareOps {
		for _, o := range ops {
			r.Register(o.opcode, CompareHandler{Op: o.op, Type: t}, o.name)
		}
	}
	for t, ops := range intrinsicOps {
		for _, o := range ops {
			r.Register(o.opcode, IntrinsicHandler{Fn: o.fn, Type: t}, o.name)
		}
	}
	r.Register(wasm.OpI32Eqz, EqzHandler{Type: wasm.ValI32}, "i32.eqz")
	r.Register(wasm.OpI64Eqz, EqzHandler{Type: wasm.ValI64}, "i64.eqz")
}
