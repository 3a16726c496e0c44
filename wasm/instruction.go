package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm2ir/internal/binary"
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
	// Pos is the byte offset of the opcode in the module binary.
	Pos int
}

// BlockImm holds the block type for block, loop and if instructions.
type BlockImm struct {
	Type int64 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// Block type encodings as read by ReadS64.
const (
	BlockVoid int64 = -64
	BlockI32  int64 = -1
	BlockI64  int64 = -2
	BlockF32  int64 = -3
	BlockF64  int64 = -4
)

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// MemoryIdxImm holds the reserved memory index byte of memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx byte
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the bit pattern of an f32.const.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the bit pattern of an f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds a 0xFC-prefixed sub-opcode and its index operands.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// SelectTypeImm holds the operand types of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsIndirectCall returns true if this is a call_indirect instruction
func (i Instruction) IsIndirectCall() bool {
	return i.Opcode == OpCallIndirect
}

// ErrUnknownOpcode is returned for opcodes outside the supported set.
type ErrUnknownOpcode struct {
	Opcode    byte
	SubOpcode uint32
	Prefixed  bool
	Pos       int
}

func (e *ErrUnknownOpcode) Error() string {
	if e.Prefixed {
		return fmt.Sprintf("unknown opcode 0x%02x 0x%02x at 0x%x", e.Opcode, e.SubOpcode, e.Pos)
	}
	return fmt.Sprintf("unknown opcode 0x%02x at 0x%x", e.Opcode, e.Pos)
}

// ReadInstruction decodes one instruction with its immediates from r.
func ReadInstruction(r *binary.Reader) (Instruction, error) {
	pos := r.Position()
	op, err := r.ReadU8()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op, Pos: pos}

	switch op {
	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = BlockImm{Type: bt}

	case OpBr, OpBrIf:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if rem := r.Len(); rem >= 0 && int(count) > rem {
			return instr, fmt.Errorf("br_table of %d labels at 0x%x exceeds input", count, pos)
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU8()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: uint32(tableIdx)}

	case OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if count != 1 {
			return instr, fmt.Errorf("typed select with %d types at 0x%x", count, pos)
		}
		b, err := r.ReadU8()
		if err != nil {
			return instr, err
		}
		instr.Imm = SelectTypeImm{Types: []ValType{ValType(b)}}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		memImm, err := readMemArg(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = memImm

	case OpMemorySize, OpMemoryGrow:
		idx, err := r.ReadU8()
		if err != nil {
			return instr, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: idx}

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		v, err := r.ReadU32LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Bits: v}

	case OpF64Const:
		v, err := r.ReadU64LE()
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Bits: v}

	case OpPrefixMisc:
		sub, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		imm := MiscImm{SubOpcode: sub}
		switch sub {
		case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
			MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		case MiscMemoryInit:
			seg, err := r.ReadU32()
			if err != nil {
				return instr, err
			}
			mem, err := r.ReadU8()
			if err != nil {
				return instr, err
			}
			imm.Operands = []uint32{seg, uint32(mem)}
		case MiscDataDrop:
			seg, err := r.ReadU32()
			if err != nil {
				return instr, err
			}
			imm.Operands = []uint32{seg}
		case MiscMemoryCopy:
			dst, err := r.ReadU8()
			if err != nil {
				return instr, err
			}
			src, err := r.ReadU8()
			if err != nil {
				return instr, err
			}
			imm.Operands = []uint32{uint32(dst), uint32(src)}
		case MiscMemoryFill:
			mem, err := r.ReadU8()
			if err != nil {
				return instr, err
			}
			imm.Operands = []uint32{uint32(mem)}
		default:
			return instr, &ErrUnknownOpcode{Opcode: op, SubOpcode: sub, Prefixed: true, Pos: pos}
		}
		instr.Imm = imm

	default:
		if !isPlainOpcode(op) {
			return instr, &ErrUnknownOpcode{Opcode: op, Pos: pos}
		}
	}

	return instr, nil
}

// isPlainOpcode reports whether op is a supported opcode without immediates.
func isPlainOpcode(op byte) bool {
	switch {
	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn:
		return true
	case op == OpDrop, op == OpSelect:
		return true
	case op >= OpI32Eqz && op <= OpI64Extend32S:
		return true
	}
	return false
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}
	if offset > math.MaxUint32 {
		return MemoryImm{}, fmt.Errorf("memory offset %d exceeds 32 bits", offset)
	}
	return MemoryImm{Align: align, Offset: uint32(offset)}, nil
}

// EncodeInstruction appends the binary encoding of instr to w.
func EncodeInstruction(w *binary.Writer, instr Instruction) {
	w.Byte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		w.WriteS64(imm.Type)
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.Byte(byte(imm.TableIdx))
	case SelectTypeImm:
		w.WriteU32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			w.Byte(byte(t))
		}
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case MemoryImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case MemoryIdxImm:
		w.Byte(imm.MemIdx)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteU32LE(imm.Bits)
	case F64Imm:
		w.WriteU64LE(imm.Bits)
	case MiscImm:
		w.WriteU32(imm.SubOpcode)
		for i, o := range imm.Operands {
			if imm.SubOpcode == MiscMemoryInit && i == 0 || imm.SubOpcode == MiscDataDrop {
				w.WriteU32(o)
			} else {
				w.Byte(byte(o))
			}
		}
	}
}

// EncodeInstructions encodes a sequence of instructions.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for _, instr := range instrs {
		EncodeInstruction(w, instr)
	}
	return w.Bytes()
}
