package handler

import (
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// ConvHandler handles conversions with a direct il Conv form: wrap,
// extend, sign extension, int to float, demote and promote.
type ConvHandler struct {
	Kind il.Conv
	From wasm.ValType
	To   wasm.ValType
}

func (h ConvHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	if err := ctx.PopExpect(h.From); err != nil {
		return err
	}
	ctx.Emit.Conv(h.Kind, ILType(h.From), ILType(h.To))
	ctx.Push(h.To)
	return nil
}

// ConvIntrinsicHandler handles conversions carried out by a library
// routine: trapping and saturating float to int truncation, and
// reinterpretation of the bit pattern.
type ConvIntrinsicHandler struct {
	Fn   il.Fn
	From wasm.ValType
	To   wasm.ValType
}

func (h ConvIntrinsicHandler) Handle(ctx *Context, _ wasm.Instruction) error {
	if err := ctx.PopExpect(h.From); err != nil {
		return err
	}
	ctx.Emit.IntrinsicConv(h.Fn, ILType(h.From), ILType(h.To))
	ctx.Push(h.To)
	return nil
}

// RegisterConversionHandlers registers the 0xA7..0xC4 conversion range.
func RegisterConversionHandlers(r *Registry) {
	i32, i64, f32, f64 := wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64

	convs := []struct {
		opcode   byte
		kind     il.Conv
		from, to wasm.ValType
		name     string
	}{
		{wasm.OpI32WrapI64, il.ConvWrap, i64, i32, "i32.wrap_i64"},
		{wasm.OpI64ExtendI32S, il.ConvExtendS, i32, i64, "i64.extend_i32_s"},
		{wasm.OpI64ExtendI32U, il.ConvExtendU, i32, i64, "i64.extend_i32_u"},
		{wasm.OpF32ConvertI32S, il.ConvIntToFloatS, i32, f32, "f32.convert_i32_s"},
		{wasm.OpF32ConvertI32U, il.ConvIntToFloatU, i32, f32, "f32.convert_i32_u"},
		{wasm.OpF32ConvertI64S, il.ConvIntToFloatS, i64, f32, "f32.convert_i64_s"},
		{wasm.OpF32ConvertI64U, il.ConvIntToFloatU, i64, f32, "f32.convert_i64_u"},
		{wasm.OpF64ConvertI32S, il.ConvIntToFloatS, i32, f64, "f64.convert_i32_s"},
		{wasm.OpF64ConvertI32U, il.ConvIntToFloatU, i32, f64, "f64.convert_i32_u"},
		{wasm.OpF64ConvertI64S, il.ConvIntToFloatS, i64, f64, "f64.convert_i64_s"},
		{wasm.OpF64ConvertI64U, il.ConvIntToFloatU, i64, f64, "f64.convert_i64_u"},
		{wasm.OpF32DemoteF64, il.ConvDemote, f64, f32, "f32.demote_f64"},
		{wasm.OpF64PromoteF32, il.ConvPromote, f32, f64, "f64.promote_f32"},
		{wasm.OpI32Extend8S, il.ConvSignExt8, i32, i32, "i32.extend8_s"},
		{wasm.OpI32Extend16S, il.ConvSignExt16, i32, i32, "i32.extend16_s"},
		{wasm.OpI64Extend8S, il.ConvSignExt8, i64, i64, "i64.extend8_s"},
		{wasm.OpI64Extend16S, il.ConvSignExt16, i64, i64, "i64.extend16_s"},
		{wasm.OpI64Extend32S, il.ConvSignExt32, i64, i64, "i64.extend32_s"},
	}
	for _, c := range convs {
		r.Register(c.opcode, ConvHandler{Kind: c.kind, From: c.from, To: c.to}, c.name)
	}

	intrinsics := []struct {
		opcode   byte
		fn       il.Fn
		from, to wasm.ValType
		name     string
	}{
		{wasm.OpI32TruncF32S, il.FnTruncS, f32, i32, "i32.trunc_f32_s"},
		{wasm.OpI32TruncF32U, il.FnTruncU, f32, i32, "i32.trunc_f32_u"},
		{wasm.OpI32TruncF64S, il.FnTruncS, f64, i32, "i32.trunc_f64_s"},
		{wasm.OpI32TruncF64U, il.FnTruncU, f64, i32, "i32.trunc_f64_u"},
		{wasm.OpI64TruncF32S, il.FnTruncS, f32, i64, "i64.trunc_f32_s"},
		{wasm.OpI64TruncF32U, il.FnTruncU, f32, i64, "i64.trunc_f32_u"},
		{wasm.OpI64TruncF64S, il.FnTruncS, f64, i64, "i64.trunc_f64_s"},
		{wasm.OpI64TruncF64U, il.FnTruncU, f64, i64, "i64.trunc_f64_u"},
		{wasm.OpI32ReinterpretF32, il.FnReinterpret, f32, i32, "i32.reinterpret_f32"},
		{wasm.OpI64ReinterpretF64, il.FnReinterpret, f64, i64, "i64.reinterpret_f64"},
		{wasm.OpF32ReinterpretI32, il.FnReinterpret, i32, f32, "f32.reinterpret_i32"},
		{wasm.OpF64ReinterpretI64, il.FnReinterpret, i64, f64, "f64.reinterpret_i64"},
	}
	for _, c := range intrinsics {
		r.Register(c.opcode, ConvIntrinsicHandler{Fn: c.fn, From: c.from, To: c.to}, c.name)
	}
}
