package wasm

import (
	"fmt"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/internal/binary"
)

// maxLocals bounds the declared locals of one body so a corrupt count cannot
// trigger a huge allocation.
const maxLocals = 50000

// ParseModule runs the first decoding pass over a module binary.
//
// Every section is consumed from a single cursor, and the cursor must land
// exactly on the section's declared end. Code bodies and the element section
// are only bookmarked; see ReadLocals and ReadElements for the second pass.
func ParseModule(data []byte) (*Module, error) {
	r := binary.FromBytes(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.Decode("header", err)
	}
	if magic != Magic {
		return nil, errors.Decode("header", ErrInvalidMagic)
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.Decode("header", err)
	}
	if version != Version {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Detail("version %d", version).Cause(ErrInvalidVersion).Build()
	}

	m := &Module{Names: make(map[uint32]string)}

	for r.Len() > 0 {
		id, err := r.ReadU8()
		if err != nil {
			return nil, errors.Decode("section header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, errors.Decode("section size", err)
		}

		bm := Bookmark{ID: id, Offset: r.Position(), Size: int(size)}
		name := SectionName(id)
		if int(size) > r.Len() {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(name).
				Detail("section of %d bytes at 0x%x exceeds remaining %d", size, bm.Offset, r.Len()).
				Build()
		}
		m.Sections = append(m.Sections, bm)

		if err := parseSection(r, m, bm); err != nil {
			return nil, sectionError(r, name, err)
		}
		if r.Position() != bm.End() {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(name).
				Detail("section consumed up to 0x%x, declared end 0x%x", r.Position(), bm.End()).
				Build()
		}
	}

	if len(m.Bodies) != len(m.Funcs) {
		return nil, errors.InvalidData(errors.PhaseDecode, []string{"code"},
			fmt.Sprintf("%d bodies for %d declared functions", len(m.Bodies), len(m.Funcs)))
	}

	return m, nil
}

func parseSection(r *binary.Reader, m *Module, bm Bookmark) error {
	switch bm.ID {
	case SectionCustom:
		return parseCustomSection(r, m, bm.End())
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionElement:
		el := bm
		m.Element = &el
		return r.Skip(bm.Size)
	case SectionCode:
		return parseCodeBookmarks(r, m)
	case SectionData:
		return parseDataSection(r, m)
	default:
		// Forward compatible: unknown sections are skipped by length.
		return r.Skip(bm.Size)
	}
}

// sectionError attaches the section to err. Cursor failures are wrapped in
// a binary.ParseError carrying the position where decoding stopped.
func sectionError(r *binary.Reader, name string, err error) error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithPath(name)
	}
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Path(name).Cause(r.WrapError(name, err)).Build()
}

// SectionName returns the conventional name of a section id.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	default:
		return fmt.Sprintf("section(%d)", id)
	}
}

func parseCustomSection(r *binary.Reader, m *Module, end int) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	if r.Position() > end {
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("custom section name runs to 0x%x, past section end 0x%x", r.Position(), end).
			Build()
	}
	if name != "name" {
		return r.Skip(end - r.Position())
	}
	names, err := readNameSection(r, end)
	if err != nil {
		// A broken name section only costs readable names.
		m.NameSectionErr = err
		return r.Seek(end)
	}
	for idx, n := range names {
		m.Names[idx] = n
	}
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadU8()
		if err != nil {
			return err
		}
		if form != FuncTypeForm {
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("type form 0x%02x", form)).
				WithPath(fmt.Sprintf("type[%d]", i))
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		if len(results) > 1 {
			return errors.InvalidData(errors.PhaseDecode, []string{fmt.Sprintf("type[%d]", i)},
				fmt.Sprintf("%d results, at most 1 supported", len(results)))
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if rem := r.Len(); rem >= 0 && int(count) > rem {
		return nil, fmt.Errorf("value type count %d exceeds section", count)
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		vt := ValType(b)
		if !vt.IsNumeric() {
			return nil, errors.Unsupported(errors.PhaseDecode, "value type "+vt.String())
		}
		types[i] = vt
	}
	return types, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadU8()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Kind: kind}
		path := fmt.Sprintf("import[%s.%s]", module, name)

		switch kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			if m.Table != nil {
				return errors.Unsupported(errors.PhaseDecode, "multiple tables").WithPath(path)
			}
			imp.Limits = table.Limits
			m.Table = &table
			m.TableImported = true
		case KindMemory:
			limits, err := readMemoryLimits(r)
			if err != nil {
				return err
			}
			if m.Memory != nil {
				return errors.Unsupported(errors.PhaseDecode, "multiple memories").WithPath(path)
			}
			imp.Limits = limits
			m.Memory = &limits
			m.MemoryImported = true
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Global = &gt
		default:
			return errors.InvalidData(errors.PhaseDecode, []string{path}, fmt.Sprintf("unknown import kind 0x%02x", kind))
		}

		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, typeIdx)
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if count > 1 || m.Table != nil {
		return errors.Unsupported(errors.PhaseDecode, "multiple tables")
	}
	table, err := readTableType(r)
	if err != nil {
		return err
	}
	m.Table = &table
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if count != 1 || m.Memory != nil {
		total := count
		if m.Memory != nil {
			total++
		}
		return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("%d memories, exactly one supported", total))
	}
	limits, err := readMemoryLimits(r)
	if err != nil {
		return err
	}
	m.Memory = &limits
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				return e.WithPath(fmt.Sprintf("global[%d]", i))
			}
			return err
		}
		if init.Type != gt.ValType {
			return errors.TypeMismatch(errors.PhaseDecode, []string{fmt.Sprintf("global[%d]", i)},
				gt.ValType.String(), init.Type.String())
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadU8()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return errors.InvalidData(errors.PhaseDecode, []string{"export[" + name + "]"},
				fmt.Sprintf("invalid export kind 0x%02x", kind))
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

func parseCodeBookmarks(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Bodies = make([]Bookmark, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		bm := Bookmark{ID: SectionCode, Offset: r.Position(), Size: int(size)}
		if err := r.Skip(int(size)); err != nil {
			return errors.Decode(fmt.Sprintf("body %d", i), err)
		}
		m.Bodies = append(m.Bodies, bm)
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		path := fmt.Sprintf("data[%d]", i)
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
		case 2:
			seg.Memory, err = r.ReadU32()
			if err != nil {
				return err
			}
			if seg.Memory != 0 {
				return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("memory index %d", seg.Memory)).WithPath(path)
			}
		case 1:
			return errors.Unsupported(errors.PhaseDecode, "passive data segment").WithPath(path)
		default:
			return errors.InvalidData(errors.PhaseDecode, []string{path}, fmt.Sprintf("segment flags %d", flags))
		}

		seg.Offset, err = readOffsetExpr(r, path)
		if err != nil {
			return err
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}

// ReadElements runs the second pass over the bookmarked element section.
// It seeks r to the bookmark and asserts the section is consumed exactly.
func ReadElements(r *binary.Reader, m *Module) ([]ElementSegment, error) {
	if m.Element == nil {
		return nil, nil
	}
	bm := *m.Element
	if err := r.Seek(bm.Offset); err != nil {
		return nil, errors.Decode("element section", err)
	}

	segs, err := readElementSegments(r)
	if err != nil {
		return nil, sectionError(r, "element", err)
	}
	if r.Position() != bm.End() {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("element").
			Detail("section consumed up to 0x%x, declared end 0x%x", r.Position(), bm.End()).
			Build()
	}
	return segs, nil
}

func readElementSegments(r *binary.Reader) ([]ElementSegment, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segs := make([]ElementSegment, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		path := fmt.Sprintf("elem[%d]", i)
		flags, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		var seg ElementSegment
		switch flags {
		case 0:
		case 2:
			seg.Table, err = r.ReadU32()
			if err != nil {
				return nil, err
			}
			if seg.Table != 0 {
				return nil, errors.InvalidData(errors.PhaseDecode, []string{path},
					fmt.Sprintf("table index %d, expected 0", seg.Table))
			}
		default:
			return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("element segment flags %d", flags)).WithPath(path)
		}

		seg.Offset, err = readOffsetExpr(r, path)
		if err != nil {
			return nil, err
		}
		if flags == 2 {
			kind, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			if kind != ElemKindFunc {
				return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("element kind 0x%02x", kind)).WithPath(path)
			}
		}

		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		seg.Funcs = make([]uint32, 0, min(n, 1<<16))
		for j := uint32(0); j < n; j++ {
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			seg.Funcs = append(seg.Funcs, idx)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// ReadLocals seeks to a body bookmark and reads its local declarations,
// leaving r at the first instruction.
func ReadLocals(r *binary.Reader, body Bookmark) ([]ValType, error) {
	if err := r.Seek(body.Offset); err != nil {
		return nil, errors.Decode("body", err)
	}
	groups, err := r.ReadU32()
	if err != nil {
		return nil, errors.Decode("locals", err)
	}
	var locals []ValType
	for i := uint32(0); i < groups; i++ {
		n, err := r.ReadU32()
		if err != nil {
			return nil, errors.Decode("locals", err)
		}
		b, err := r.ReadU8()
		if err != nil {
			return nil, errors.Decode("locals", err)
		}
		vt := ValType(b)
		if !vt.IsNumeric() {
			return nil, errors.Unsupported(errors.PhaseDecode, "local type "+vt.String())
		}
		if len(locals)+int(n) > maxLocals {
			return nil, errors.InvalidData(errors.PhaseDecode, []string{"locals"},
				fmt.Sprintf("more than %d locals", maxLocals))
		}
		for j := uint32(0); j < n; j++ {
			locals = append(locals, vt)
		}
	}
	return locals, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flag, err := r.ReadU8()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	switch flag {
	case 0x00:
		l.Min, err = r.ReadU32()
	case 0x01:
		if l.Min, err = r.ReadU32(); err != nil {
			return l, err
		}
		l.Max, err = r.ReadU32()
		l.HasMax = true
	default:
		return l, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("limits flag 0x%02x", flag))
	}
	return l, err
}

func readMemoryLimits(r *binary.Reader) (Limits, error) {
	l, err := readLimits(r)
	if err != nil {
		return l, err
	}
	if l.Min > MaxPages {
		return l, errors.InvalidData(errors.PhaseDecode, []string{"memory"},
			fmt.Sprintf("minimum %d pages exceeds %d", l.Min, MaxPages))
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	b, err := r.ReadU8()
	if err != nil {
		return TableType{}, err
	}
	if ValType(b) != ValFuncRef {
		return TableType{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("table element type 0x%02x", b))
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValFuncRef, Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	b, err := r.ReadU8()
	if err != nil {
		return GlobalType{}, err
	}
	vt := ValType(b)
	if !vt.IsNumeric() {
		return GlobalType{}, errors.Unsupported(errors.PhaseDecode, "global type "+vt.String())
	}
	mut, err := r.ReadU8()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("mutability flag %d", mut))
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readConstExpr reads `<t>.const v` followed by `end`.
func readConstExpr(r *binary.Reader) (ConstExpr, error) {
	op, err := r.ReadU8()
	if err != nil {
		return ConstExpr{}, err
	}
	var c ConstExpr
	switch op {
	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return c, err
		}
		c = ConstExpr{Type: ValI32, Bits: uint64(uint32(v))}
	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return c, err
		}
		c = ConstExpr{Type: ValI64, Bits: uint64(v)}
	case OpF32Const:
		v, err := r.ReadU32LE()
		if err != nil {
			return c, err
		}
		c = ConstExpr{Type: ValF32, Bits: uint64(v)}
	case OpF64Const:
		v, err := r.ReadU64LE()
		if err != nil {
			return c, err
		}
		c = ConstExpr{Type: ValF64, Bits: v}
	case OpGlobalGet:
		return c, errors.Unsupported(errors.PhaseDecode, "global.get in constant expression")
	default:
		return c, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("expected constant expression, found opcode 0x%02x", op))
	}

	end, err := r.ReadU8()
	if err != nil {
		return c, err
	}
	if end != OpEnd {
		return c, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("expected end of constant expression, found opcode 0x%02x", end))
	}
	return c, nil
}

func readOffsetExpr(r *binary.Reader, path string) (uint32, error) {
	c, err := readConstExpr(r)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			return 0, e.WithPath(path)
		}
		return 0, err
	}
	if c.Type != ValI32 {
		return 0, errors.TypeMismatch(errors.PhaseDecode, []string{path, "offset"}, "i32", c.Type.String())
	}
	return uint32(c.Bits), nil
}
