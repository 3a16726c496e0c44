package il

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/internal/binary"
)

// Artifact header.
const (
	ArtifactMagic   = "W2IR"
	ArtifactVersion = 1
	ArtifactExt     = ".w2ir"
)

// Compression modes recorded in the artifact header.
const (
	CompressNone byte = 0
	CompressZstd byte = 1
)

// EncodeOptions controls artifact encoding.
type EncodeOptions struct {
	// Level is a zstd level from 1 to 22. Zero stores the body uncompressed.
	Level int
}

// Encode serializes m into an artifact.
func Encode(m *Module, opts EncodeOptions) ([]byte, error) {
	body := binary.NewWriter()
	encodeModule(body, m)

	out := binary.NewWriter()
	out.WriteBytes([]byte(ArtifactMagic))
	out.WriteU16LE(ArtifactVersion)

	if opts.Level <= 0 {
		out.Byte(CompressNone)
		out.WriteBytes(body.Bytes())
		return out.Bytes(), nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEmit, errors.KindInvalidInput, err, "create zstd encoder")
	}
	defer enc.Close()

	out.Byte(CompressZstd)
	out.WriteBytes(enc.EncodeAll(body.Bytes(), nil))
	return out.Bytes(), nil
}

// MaxBodySize caps the decompressed size of an artifact body.
const MaxBodySize = 1 << 30

// Decode parses an artifact produced by Encode.
func Decode(data []byte) (*Module, error) {
	if len(data) < len(ArtifactMagic)+3 || !bytes.Equal(data[:4], []byte(ArtifactMagic)) {
		return nil, errors.Load("not an il artifact", nil)
	}
	r := binary.FromBytes(data[4:])
	version, err := r.ReadU16LE()
	if err != nil {
		return nil, errors.Load("header", err)
	}
	if version != ArtifactVersion {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Detail("artifact version %d", version).Build()
	}
	mode, err := r.ReadU8()
	if err != nil {
		return nil, errors.Load("header", err)
	}

	payload := data[4+r.Position():]
	switch mode {
	case CompressNone:
	case CompressZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize))
		if err != nil {
			return nil, errors.Load("create zstd decoder", err)
		}
		defer dec.Close()
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, errors.Load("decompress body", err)
		}
	default:
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Detail("compression mode %d", mode).Build()
	}

	br := binary.FromBytes(payload)
	m, err := decodeModule(br)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("body at offset %d", br.Position()), err)
	}
	if br.Len() != 0 {
		return nil, errors.Load(fmt.Sprintf("%d trailing bytes", br.Len()), nil)
	}
	return m, nil
}

// WriteFile encodes m and writes it to path on fs.
func WriteFile(fs afero.Fs, path string, m *Module, opts EncodeOptions) error {
	data, err := Encode(m, opts)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseEmit, errors.KindInvalidInput, err, "write "+path)
	}
	return nil
}

// ReadFile reads and decodes the artifact at path on fs.
func ReadFile(fs afero.Fs, path string) (*Module, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return Decode(data)
}

func encodeModule(w *binary.Writer, m *Module) {
	w.WriteU32(uint32(len(m.Types)))
	for _, s := range m.Types {
		encodeTypes(w, s.Params)
		w.Byte(byte(s.Result))
	}

	w.WriteU32(uint32(len(m.Functions)))
	for _, f := range m.Functions {
		encodeFunction(w, f)
	}
	if m.Init != nil {
		w.Byte(1)
		encodeFunction(w, m.Init)
	} else {
		w.Byte(0)
	}

	w.WriteU32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		w.WriteName(e.Name)
		w.WriteU32(e.Func)
	}

	w.WriteU32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		w.WriteName(g.Name)
		w.Byte(byte(g.Type))
		w.Byte(boolByte(g.Mutable))
	}

	w.WriteU32(uint32(len(m.Data)))
	for _, d := range m.Data {
		w.WriteU32(uint32(len(d)))
		w.WriteBytes(d)
	}

	w.WriteU32(uint32(len(m.Hosts)))
	for _, h := range m.Hosts {
		w.WriteName(h.Module)
		w.WriteName(h.Name)
		encodeTypes(w, h.Params)
		w.Byte(byte(h.Result))
		w.Byte(boolByte(h.NeedsContext))
	}

	w.WriteU32(uint32(len(m.Strings)))
	for _, s := range m.Strings {
		w.WriteStrN(s)
	}

	w.Byte(boolByte(m.Memory.Present))
	w.WriteU32(m.Memory.Pages)
	w.WriteU32(m.Memory.Max)
	w.Byte(boolByte(m.Memory.HasMax))
	w.Byte(boolByte(m.Memory.Imported))

	w.Byte(boolByte(m.Table.Present))
	w.WriteU32(m.Table.Size)
}

func encodeFunction(w *binary.Writer, f *Function) {
	w.WriteName(f.Name)
	w.Byte(boolByte(f.Synthetic))
	w.Byte(byte(f.Kind))
	w.WriteU32(f.Type)
	encodeTypes(w, f.Params)
	w.Byte(byte(f.Result))
	encodeTypes(w, f.Locals)
	w.WriteU32(f.Labels)
	w.WriteU32(f.Host)

	w.WriteU32(uint32(len(f.Code)))
	for _, in := range f.Code {
		w.Byte(byte(in.Op))
		w.Byte(byte(in.Type))
		w.Byte(byte(in.From))
		w.WriteU64(in.Arg)
		if in.Op == OpSwitch {
			w.WriteU32(uint32(len(in.Targets)))
			for _, t := range in.Targets {
				w.WriteU32(uint32(t))
			}
		}
	}
}

func encodeTypes(w *binary.Writer, types []Type) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// count reads a vector length and rejects lengths that cannot fit in the
// remaining input, given each element takes at least one byte.
func count(r *binary.Reader) (int, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.Len() {
		return 0, fmt.Errorf("vector length %d exceeds remaining %d bytes", n, r.Len())
	}
	return int(n), nil
}

func decodeModule(r *binary.Reader) (*Module, error) {
	m := &Module{}

	n, err := count(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		params, err := decodeTypes(r)
		if err != nil {
			return nil, err
		}
		result, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		m.Types = append(m.Types, Signature{Params: params, Result: result})
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		f, err := decodeFunction(r)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		m.Functions = append(m.Functions, f)
	}
	hasInit, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if hasInit == 1 {
		if m.Init, err = decodeFunction(r); err != nil {
			return nil, fmt.Errorf("initializer: %w", err)
		}
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		fn, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if int(fn) >= len(m.Functions) {
			return nil, fmt.Errorf("export %q references function %d of %d", name, fn, len(m.Functions))
		}
		m.Exports = append(m.Exports, Export{Name: name, Func: fn})
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		t, err := decodeType(r)
		if err != nil {
			return nil, err
		}
		mut, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		m.Globals = append(m.Globals, Field{Name: name, Type: t, Mutable: mut == 1})
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		d, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		m.Data = append(m.Data, d)
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var h HostRef
		if h.Module, err = r.ReadName(); err != nil {
			return nil, err
		}
		if h.Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if h.Params, err = decodeTypes(r); err != nil {
			return nil, err
		}
		if h.Result, err = decodeType(r); err != nil {
			return nil, err
		}
		ctx, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		h.NeedsContext = ctx == 1
		m.Hosts = append(m.Hosts, h)
	}

	if n, err = count(r); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		s, err := r.ReadStrN()
		if err != nil {
			return nil, err
		}
		m.Strings = append(m.Strings, s)
	}

	var flags [5]byte
	var nums [3]uint32
	if flags[0], err = r.ReadU8(); err != nil {
		return nil, err
	}
	if nums[0], err = r.ReadU32(); err != nil {
		return nil, err
	}
	if nums[1], err = r.ReadU32(); err != nil {
		return nil, err
	}
	if flags[1], err = r.ReadU8(); err != nil {
		return nil, err
	}
	if flags[2], err = r.ReadU8(); err != nil {
		return nil, err
	}
	if flags[3], err = r.ReadU8(); err != nil {
		return nil, err
	}
	if nums[2], err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Memory = Memory{
		Present:  flags[0] == 1,
		Pages:    nums[0],
		Max:      nums[1],
		HasMax:   flags[1] == 1,
		Imported: flags[2] == 1,
	}
	m.Table = Table{Present: flags[3] == 1, Size: nums[2]}

	return m, nil
}

func decodeFunction(r *binary.Reader) (*Function, error) {
	f := &Function{}
	var err error
	if f.Name, err = r.ReadName(); err != nil {
		return nil, err
	}
	synth, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	f.Synthetic = synth == 1
	kind, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if kind > byte(KindStub) {
		return nil, fmt.Errorf("invalid function kind %d", kind)
	}
	f.Kind = FunctionKind(kind)
	if f.Type, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if f.Params, err = decodeTypes(r); err != nil {
		return nil, err
	}
	if f.Result, err = decodeType(r); err != nil {
		return nil, err
	}
	if f.Locals, err = decodeTypes(r); err != nil {
		return nil, err
	}
	if f.Labels, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if f.Host, err = r.ReadU32(); err != nil {
		return nil, err
	}

	n, err := count(r)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		f.Code = make([]Instr, 0, n)
	}
	for i := 0; i < n; i++ {
		var in Instr
		op, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		in.Op = Op(op)
		if !in.Op.Valid() {
			return nil, fmt.Errorf("instruction %d: invalid opcode %d", i, op)
		}
		if in.Type, err = decodeType(r); err != nil {
			return nil, err
		}
		if in.From, err = decodeType(r); err != nil {
			return nil, err
		}
		if in.Arg, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if in.Op == OpSwitch {
			nt, err := count(r)
			if err != nil {
				return nil, err
			}
			if nt > 0 {
				in.Targets = make([]Label, nt)
			}
			for j := range in.Targets {
				t, err := r.ReadU32()
				if err != nil {
					return nil, err
				}
				in.Targets[j] = Label(t)
			}
		}
		f.Code = append(f.Code, in)
	}
	if uint64(f.Labels) > uint64(len(f.Code)) {
		return nil, fmt.Errorf("%d labels exceed %d instructions", f.Labels, len(f.Code))
	}
	return f, nil
}

func decodeType(r *binary.Reader) (Type, error) {
	b, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	if Type(b) > F64 {
		return 0, fmt.Errorf("invalid value type %d", b)
	}
	return Type(b), nil
}

func decodeTypes(r *binary.Reader) ([]Type, error) {
	n, err := count(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	types := make([]Type, n)
	for i := range types {
		if types[i], err = decodeType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}
