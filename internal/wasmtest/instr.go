package wasmtest

import (
	"math"

	"github.com/wippyai/wasm2ir/wasm"
)

// Shorthand constructors for test bodies.

func Op(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }

func I32(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func I64(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func F32(v float32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}}
}

func F64(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}}
}

func LocalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalTee(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: i}}
}

func GlobalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

func GlobalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: i}}
}

// Block opens a block of the given block type (see wasm.BlockVoid and friends).
func Block(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func Loop(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func If(bt int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func Else() wasm.Instruction { return Op(wasm.OpElse) }

func End() wasm.Instruction { return Op(wasm.OpEnd) }

func Br(depth uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: depth}}
}

func BrIf(depth uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: depth}}
}

func BrTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

func Call(f uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: f}}
}

func CallIndirect(typeIdx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx}}
}

// Mem builds a load or store with the given static offset.
func Mem(op byte, offset uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{Offset: offset}}
}

func MemorySize() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpMemorySize, Imm: wasm.MemoryIdxImm{}}
}

func MemoryGrow() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpMemoryGrow, Imm: wasm.MemoryIdxImm{}}
}

// Misc builds a 0xFC-prefixed instruction.
func Misc(sub uint32, operands ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: sub, Operands: operands}}
}

// Types

var (
	I32T = wasm.ValI32
	I64T = wasm.ValI64
	F32T = wasm.ValF32
	F64T = wasm.ValF64
)

// V builds a value type list.
func V(types ...wasm.ValType) []wasm.ValType { return types }
