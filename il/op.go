package il

import "fmt"

// Op is an il opcode. Operand typing is carried by Instr.Type.
type Op uint8

const (
	OpNop Op = iota
	OpLabel

	// Constants, arguments, locals, statics
	OpConst
	OpLdarg
	OpStarg
	OpLdloc
	OpStloc
	OpDup
	OpPop
	OpLdsfld
	OpStsfld

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivUn
	OpRem
	OpRemUn
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpShrUn

	// Comparisons, result i32 0/1
	OpCeq
	OpCne
	OpClt
	OpCltUn
	OpCgt
	OpCgtUn
	OpCle
	OpCleUn
	OpCge
	OpCgeUn

	OpConv
	OpIntrinsic

	// Memory access relative to the module memory
	OpLdindI1
	OpLdindU1
	OpLdindI2
	OpLdindU2
	OpLdindI4
	OpLdindU4
	OpLdindI8
	OpLdindR4
	OpLdindR8
	OpStindI1
	OpStindI2
	OpStindI4
	OpStindI8
	OpStindR4
	OpStindR8

	// References
	OpLdMem
	OpStMem
	OpLdlen
	OpNewarr
	OpCpblk
	OpInitMem
	OpLdTab
	OpStTab
	OpNewtab
	OpLdelem
	OpStelem
	OpLdftn
	OpCastfn

	// Calls
	OpCall
	OpCalli
	OpCallHost
	OpLdCtx

	// Control
	OpBr
	OpBrtrue
	OpBrfalse
	OpSwitch
	OpRet
	OpTrap

	numOps
)

var opNames = [numOps]string{
	OpNop:       "nop",
	OpLabel:     "label",
	OpConst:     "const",
	OpLdarg:     "ldarg",
	OpStarg:     "starg",
	OpLdloc:     "ldloc",
	OpStloc:     "stloc",
	OpDup:       "dup",
	OpPop:       "pop",
	OpLdsfld:    "ldsfld",
	OpStsfld:    "stsfld",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpDivUn:     "div.un",
	OpRem:       "rem",
	OpRemUn:     "rem.un",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpShl:       "shl",
	OpShr:       "shr",
	OpShrUn:     "shr.un",
	OpCeq:       "ceq",
	OpCne:       "cne",
	OpClt:       "clt",
	OpCltUn:     "clt.un",
	OpCgt:       "cgt",
	OpCgtUn:     "cgt.un",
	OpCle:       "cle",
	OpCleUn:     "cle.un",
	OpCge:       "cge",
	OpCgeUn:     "cge.un",
	OpConv:      "conv",
	OpIntrinsic: "intrinsic",
	OpLdindI1:   "ldind.i1",
	OpLdindU1:   "ldind.u1",
	OpLdindI2:   "ldind.i2",
	OpLdindU2:   "ldind.u2",
	OpLdindI4:   "ldind.i4",
	OpLdindU4:   "ldind.u4",
	OpLdindI8:   "ldind.i8",
	OpLdindR4:   "ldind.r4",
	OpLdindR8:   "ldind.r8",
	OpStindI1:   "stind.i1",
	OpStindI2:   "stind.i2",
	OpStindI4:   "stind.i4",
	OpStindI8:   "stind.i8",
	OpStindR4:   "stind.r4",
	OpStindR8:   "stind.r8",
	OpLdMem:     "ldmem",
	OpStMem:     "stmem",
	OpLdlen:     "ldlen",
	OpNewarr:    "newarr",
	OpCpblk:     "cpblk",
	OpInitMem:   "initmem",
	OpLdTab:     "ldtab",
	OpStTab:     "sttab",
	OpNewtab:    "newtab",
	OpLdelem:    "ldelem",
	OpStelem:    "stelem",
	OpLdftn:     "ldftn",
	OpCastfn:    "castfn",
	OpCall:      "call",
	OpCalli:     "calli",
	OpCallHost:  "callhost",
	OpLdCtx:     "ldctx",
	OpBr:        "br",
	OpBrtrue:    "brtrue",
	OpBrfalse:   "brfalse",
	OpSwitch:    "switch",
	OpRet:       "ret",
	OpTrap:      "trap",
}

func (o Op) String() string {
	if o < numOps {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Valid reports whether o is a known opcode.
func (o Op) Valid() bool {
	return o < numOps
}

// IsBranch reports whether o transfers control to a label.
func (o Op) IsBranch() bool {
	return o == OpBr || o == OpBrtrue || o == OpBrfalse || o == OpSwitch
}

// Conv selects the conversion performed by OpConv.
type Conv uint8

const (
	ConvWrap Conv = iota
	ConvExtendS
	ConvExtendU
	ConvSignExt8
	ConvSignExt16
	ConvSignExt32
	ConvIntToFloatS
	ConvIntToFloatU
	ConvDemote
	ConvPromote
	numConvs
)

var convNames = [numConvs]string{
	ConvWrap:        "wrap",
	ConvExtendS:     "extend_s",
	ConvExtendU:     "extend_u",
	ConvSignExt8:    "sext8",
	ConvSignExt16:   "sext16",
	ConvSignExt32:   "sext32",
	ConvIntToFloatS: "convert_s",
	ConvIntToFloatU: "convert_u",
	ConvDemote:      "demote",
	ConvPromote:     "promote",
}

func (c Conv) String() string {
	if c < numConvs {
		return convNames[c]
	}
	return fmt.Sprintf("conv(%d)", uint8(c))
}

// Fn selects the library routine invoked by OpIntrinsic.
type Fn uint8

const (
	FnClz Fn = iota
	FnCtz
	FnPopcnt
	FnRotl
	FnRotr
	FnAbs
	FnNeg
	FnSqrt
	FnCeil
	FnFloor
	FnTrunc
	FnNearest
	FnMin
	FnMax
	FnCopysign
	FnTruncS
	FnTruncU
	FnTruncSatS
	FnTruncSatU
	FnReinterpret
	FnMemCopy
	FnMemFill
	numFns
)

var fnNames = [numFns]string{
	FnClz:         "clz",
	FnCtz:         "ctz",
	FnPopcnt:      "popcnt",
	FnRotl:        "rotl",
	FnRotr:        "rotr",
	FnAbs:         "abs",
	FnNeg:         "neg",
	FnSqrt:        "sqrt",
	FnCeil:        "ceil",
	FnFloor:       "floor",
	FnTrunc:       "trunc",
	FnNearest:     "nearest",
	FnMin:         "min",
	FnMax:         "max",
	FnCopysign:    "copysign",
	FnTruncS:      "trunc_s",
	FnTruncU:      "trunc_u",
	FnTruncSatS:   "trunc_sat_s",
	FnTruncSatU:   "trunc_sat_u",
	FnReinterpret: "reinterpret",
	FnMemCopy:     "memory.copy",
	FnMemFill:     "memory.fill",
}

func (f Fn) String() string {
	if f < numFns {
		return fnNames[f]
	}
	return fmt.Sprintf("fn(%d)", uint8(f))
}

// Arity returns the number of operands f pops.
func (f Fn) Arity() int {
	switch f {
	case FnRotl, FnRotr, FnMin, FnMax, FnCopysign:
		return 2
	case FnMemCopy, FnMemFill:
		return 3
	default:
		return 1
	}
}

// Label identifies a branch target within one function.
type Label uint32

// Instr is one il instruction.
//
// Type is the operand type (or result type for Const, Conv and loads). From
// is the source type of a conversion. Arg holds the immediate: constant
// bits, an index, a label, a Conv or an Fn. Targets is used by OpSwitch.
type Instr struct {
	Op      Op
	Type    Type
	From    Type
	Arg     uint64
	Targets []Label
}

func (in Instr) String() string {
	switch in.Op {
	case OpLabel:
		return fmt.Sprintf("L%d:", in.Arg)
	case OpConst:
		return fmt.Sprintf("const.%s 0x%x", in.Type, in.Arg)
	case OpConv:
		return fmt.Sprintf("conv.%s %s->%s", Conv(in.Arg), in.From, in.Type)
	case OpIntrinsic:
		if in.From != Void {
			return fmt.Sprintf("intrinsic %s %s->%s", Fn(in.Arg), in.From, in.Type)
		}
		return fmt.Sprintf("intrinsic %s.%s", Fn(in.Arg), in.Type)
	case OpBr, OpBrtrue, OpBrfalse:
		return fmt.Sprintf("%s L%d", in.Op, in.Arg)
	case OpSwitch:
		s := "switch ("
		for i, t := range in.Targets {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("L%d", t)
		}
		return s + ")"
	case OpLdarg, OpStarg, OpLdloc, OpStloc, OpLdsfld, OpStsfld:
		return fmt.Sprintf("%s.%s %d", in.Op, in.Type, in.Arg)
	case OpCall, OpCalli, OpCallHost, OpCastfn, OpLdftn, OpInitMem, OpTrap:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	case OpRet:
		if in.Type == Void {
			return "ret"
		}
		return "ret." + in.Type.String()
	}
	if in.Type != Void {
		return in.Op.String() + "." + in.Type.String()
	}
	return in.Op.String()
}
