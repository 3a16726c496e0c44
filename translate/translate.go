package translate

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm2ir/config"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/internal/binary"
	"github.com/wippyai/wasm2ir/translate/internal/handler"
	"github.com/wippyai/wasm2ir/wasm"
)

// MaxTableSize bounds the number of table slots.
const MaxTableSize = 1 << 24

// InitName is the name of the module initializer.
const InitName = ".init"

// Options configures a translation.
type Options struct {
	// Hosts resolves function imports. Nil stubs every import.
	Hosts *host.Registry
	// DefaultMemoryPages sizes the memory of modules without one.
	// Zero uses config.DefaultMemoryPages.
	DefaultMemoryPages uint32
}

// Translate decodes a WebAssembly binary and translates it.
func Translate(ctx context.Context, data []byte, opts Options) (*il.Module, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, err
	}
	return Module(ctx, m, data, opts)
}

// Module translates an already decoded module. data must be the binary m
// was parsed from; body and element bookmarks are resolved against it.
func Module(ctx context.Context, m *wasm.Module, data []byte, opts Options) (*il.Module, error) {
	if opts.DefaultMemoryPages == 0 {
		opts.DefaultMemoryPages = config.DefaultMemoryPages
	}
	t := &translator{
		opts:  opts,
		src:   m,
		out:   &il.Module{},
		r:     binary.FromBytes(data),
		hosts: make(map[string]uint32),
		log:   Logger(),
	}
	if err := t.run(ctx); err != nil {
		return nil, err
	}
	return t.out, nil
}

type translator struct {
	opts    Options
	src     *wasm.Module
	out     *il.Module
	r       *binary.Reader
	callees []handler.Callee
	hosts   map[string]uint32
	slots   map[uint32]uint32
	log     *zap.Logger
}

func (t *translator) run(ctx context.Context) error {
	if t.src.Start != nil {
		t.log.Warn("start function ignored", zap.Uint32("func", *t.src.Start))
	}
	if t.src.NameSectionErr != nil {
		t.log.Warn("malformed name section ignored", zap.Error(t.src.NameSectionErr))
	}

	steps := []func() error{
		t.checkImports,
		t.declareTypes,
		t.declareMemory,
		t.declareGlobals,
		t.declareData,
		t.declareFunctions,
		t.declareExports,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	sites, err := t.translateBodies(ctx)
	if err != nil {
		return err
	}
	if err := t.populateTable(); err != nil {
		return err
	}
	if err := t.checkSites(sites); err != nil {
		return err
	}
	t.out.Init = t.buildInit()

	t.log.Debug("module translated",
		zap.Int("functions", len(t.out.Functions)),
		zap.Int("hosts", len(t.out.Hosts)),
		zap.Uint32("table", t.out.Table.Size))
	return nil
}

func (t *translator) checkImports() error {
	for _, imp := range t.src.Imports {
		if imp.Kind == wasm.KindGlobal {
			return errors.New(errors.PhaseTranslate, errors.KindUnsupported).
				Path("import", imp.Module+"."+imp.Name).
				Detail("unsupported: imported global").Build()
		}
	}
	return nil
}

func (t *translator) declareTypes() error {
	t.out.Types = make([]il.Signature, len(t.src.Types))
	for i, ft := range t.src.Types {
		if len(ft.Results) > 1 {
			return errors.New(errors.PhaseTranslate, errors.KindInvalidData).
				Path(fmt.Sprintf("type[%d]", i)).
				Detail("%d results, at most one is supported", len(ft.Results)).Build()
		}
		t.out.Types[i] = handler.Signature(ft)
	}
	return nil
}

func (t *translator) declareMemory() error {
	mem := il.Memory{Present: true, Pages: t.opts.DefaultMemoryPages}
	if l := t.src.Memory; l != nil {
		mem.Pages, mem.Max, mem.HasMax = l.Min, l.Max, l.HasMax
		mem.Imported = t.src.MemoryImported
		if l.HasMax && l.Max < l.Min {
			t.log.Warn("memory maximum below minimum", zap.Uint32("min", l.Min), zap.Uint32("max", l.Max))
		}
	}
	if mem.Pages > wasm.MaxPages {
		return errors.New(errors.PhaseTranslate, errors.KindInvalidData).
			Path("memory").Value(mem.Pages).
			Detail("%d pages exceeds %d", mem.Pages, wasm.MaxPages).Build()
	}
	t.out.Memory = mem

	if tab := t.src.Table; tab != nil {
		if tab.Limits.Min > MaxTableSize {
			return errors.Unsupported(errors.PhaseTranslate,
				fmt.Sprintf("table of %d slots", tab.Limits.Min))
		}
		t.out.Table = il.Table{Present: true, Size: tab.Limits.Min}
	}
	return nil
}

func (t *translator) declareGlobals() error {
	t.out.Globals = make([]il.Field, len(t.src.Globals))
	for i, g := range t.src.Globals {
		if g.Init.Type != g.Type.ValType {
			return errors.TypeMismatch(errors.PhaseTranslate,
				[]string{fmt.Sprintf("global[%d]", i), "init"},
				g.Type.ValType.String(), g.Init.Type.String())
		}
		t.out.Globals[i] = il.Field{
			Name:    fmt.Sprintf("global%d", i),
			Type:    handler.ILType(g.Type.ValType),
			Mutable: g.Type.Mutable,
		}
	}
	return nil
}

func (t *translator) declareData() error {
	size := uint64(t.out.Memory.Pages) * wasm.PageSize
	t.out.Data = make([][]byte, len(t.src.Data))
	for i, seg := range t.src.Data {
		if end := uint64(seg.Offset) + uint64(len(seg.Init)); end > size {
			return errors.New(errors.PhaseTranslate, errors.KindOutOfBounds).
				Path(fmt.Sprintf("data[%d]", i)).Value(end).
				Detail("segment ends at 0x%x, memory is 0x%x bytes", end, size).Build()
		}
		t.out.Data[i] = seg.Init
	}
	return nil
}

// declareFunctions creates one il function per entry of the function index
// space and records how calls to it are emitted.
func (t *translator) declareFunctions() error {
	decls := t.src.Functions()
	t.out.Functions = make([]*il.Function, len(decls))
	t.callees = make([]handler.Callee, len(decls))

	for i, d := range decls {
		if int(d.TypeIdx) >= len(t.src.Types) {
			return errors.OutOfBounds(errors.PhaseTranslate,
				[]string{fmt.Sprintf("func[%d]", i), "type"}, int(d.TypeIdx), len(t.src.Types))
		}
		ft := t.src.Types[d.TypeIdx]
		sig := t.out.Types[d.TypeIdx]
		fn := &il.Function{
			Name:      d.Name,
			Synthetic: d.Synthetic,
			Kind:      il.KindDefined,
			Type:      d.TypeIdx,
			Params:    sig.Params,
			Result:    sig.Result,
		}
		callee := handler.Callee{Type: ft, Func: d.Index, Host: -1}

		if d.Import != nil {
			if err := t.bindImport(fn, &callee, d.Import, sig); err != nil {
				return err
			}
		}
		t.out.Functions[i] = fn
		t.callees[i] = callee
	}
	return nil
}

// bindImport turns fn into a host thunk when the registry resolves the
// import, and into a trapping stub otherwise.
func (t *translator) bindImport(fn *il.Function, callee *handler.Callee, imp *wasm.Import, sig il.Signature) error {
	var hf *host.Func
	if t.opts.Hosts != nil {
		hf, _ = t.opts.Hosts.Lookup(imp.Module, imp.Name)
	}
	if hf == nil {
		t.log.Warn("unresolved import, emitting stub",
			zap.String("import", imp.Module+"."+imp.Name),
			zap.Stringer("type", sig))
		fn.Kind = il.KindStub
		fn.Code = stubBody(t.out, imp.Module+"."+imp.Name, sig.Result)
		return nil
	}

	if !hf.Signature().Equal(sig) {
		return errors.TypeMismatch(errors.PhaseTranslate,
			[]string{"import", imp.Module + "." + imp.Name},
			hf.Signature().String(), sig.String())
	}

	ref := hf.Ref()
	h, ok := t.hosts[ref.Key()]
	if !ok {
		h = uint32(len(t.out.Hosts))
		t.out.Hosts = append(t.out.Hosts, ref)
		t.hosts[ref.Key()] = h
	}

	fn.Kind = il.KindHostThunk
	fn.Host = h
	fn.Code = thunkBody(h, sig, hf.NeedsContext)
	callee.Host = int(h)
	callee.NeedsContext = hf.NeedsContext

	t.log.Debug("import bound",
		zap.String("import", imp.Module+"."+imp.Name),
		zap.String("host", ref.Key()))
	return nil
}

func thunkBody(h uint32, sig il.Signature, needsContext bool) []il.Instr {
	b := il.NewBuilder()
	if needsContext {
		b.Op(il.OpLdCtx, il.Void)
	}
	for i, p := range sig.Params {
		b.Ldarg(p, uint32(i))
	}
	b.CallHost(h).Ret(sig.Result)
	return b.Code()
}

func stubBody(out *il.Module, name string, result il.Type) []il.Instr {
	b := il.NewBuilder()
	b.Trap(out.Intern("not implemented: " + name))
	if result != il.Void {
		b.Const(result, 0)
	}
	b.Ret(result)
	return b.Code()
}

func (t *translator) declareExports() error {
	for _, e := range t.src.Exports {
		if e.Kind != wasm.KindFunc {
			continue
		}
		if int(e.Index) >= len(t.out.Functions) {
			return errors.OutOfBounds(errors.PhaseTranslate,
				[]string{"export", e.Name}, int(e.Index), len(t.out.Functions))
		}
		t.out.Exports = append(t.out.Exports, il.Export{Name: e.Name, Func: e.Index})
	}
	return nil
}

// Callee implements handler.Resolver.
func (t *translator) Callee(idx uint32) (handler.Callee, error) {
	if int(idx) >= len(t.callees) {
		return handler.Callee{}, errors.New(errors.PhaseTranslate, errors.KindOutOfBounds).
			Value(idx).Detail("call target %d out of range [0, %d)", idx, len(t.callees)).Build()
	}
	return t.callees[idx], nil
}

func (t *translator) translateBodies(ctx context.Context) ([]handler.IndirectSite, error) {
	if len(t.src.Bodies) != len(t.src.Funcs) {
		return nil, errors.New(errors.PhaseTranslate, errors.KindInvalidData).
			Path("code").
			Detail("%d bodies for %d declared functions", len(t.src.Bodies), len(t.src.Funcs)).Build()
	}

	hctx := handler.NewContext(t.src, t.out, t)
	reg := handler.Default()
	base := t.src.NumImportedFuncs()

	for i, body := range t.src.Bodies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := uint32(base + i)
		if err := t.translateBody(hctx, reg, idx, body); err != nil {
			return nil, err
		}
	}
	return hctx.Sites, nil
}

func (t *translator) translateBody(hctx *handler.Context, reg *handler.Registry, idx uint32, body wasm.Bookmark) error {
	fn := t.out.Functions[idx]
	ft := t.callees[idx].Type

	locals, err := wasm.ReadLocals(t.r, body)
	if err != nil {
		return withFunc(err, idx)
	}
	hctx.Begin(idx, ft, locals)

	for !hctx.Done() {
		if t.r.Position() >= body.End() {
			return errors.New(errors.PhaseTranslate, errors.KindInvalidData).
				Path(fmt.Sprintf("func[%d]", idx)).
				Detail("body ends at 0x%x without closing end", body.End()).Build()
		}
		instr, err := wasm.ReadInstruction(t.r)
		if err != nil {
			var unknown *wasm.ErrUnknownOpcode
			if stderrors.As(err, &unknown) {
				return errors.New(errors.PhaseTranslate, errors.KindUnsupported).
					Path(fmt.Sprintf("func[%d]", idx), fmt.Sprintf("offset 0x%x", unknown.Pos)).
					Detail("unsupported: %s", unknown.Error()).Cause(err).Build()
			}
			return withFunc(errors.Decode("instruction", err), idx)
		}
		if err := reg.Dispatch(hctx, instr); err != nil {
			return err
		}
	}

	if t.r.Position() != body.End() {
		return errors.New(errors.PhaseTranslate, errors.KindInvalidData).
			Path(fmt.Sprintf("func[%d]", idx)).
			Detail("body consumed up to 0x%x, declared end 0x%x", t.r.Position(), body.End()).Build()
	}

	fn.Locals = hctx.Locals.ILTypes()
	fn.Code = hctx.Emit.Code()
	fn.Labels = hctx.Emit.Labels()

	t.log.Debug("function translated",
		zap.Uint32("func", idx),
		zap.String("name", fn.Name),
		zap.Int("instrs", len(fn.Code)))
	return nil
}

func withFunc(err error, idx uint32) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.WithPath(fmt.Sprintf("func[%d]", idx))
	}
	return err
}

// populateTable applies the element section. It runs after every body has
// been translated so all table entries name finished functions.
func (t *translator) populateTable() error {
	segs, err := wasm.ReadElements(t.r, t.src)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}
	if !t.out.Table.Present {
		return errors.InvalidData(errors.PhaseTranslate, []string{"element"},
			"element segments in module without table")
	}

	t.slots = make(map[uint32]uint32)
	size := t.out.Table.Size
	for i, seg := range segs {
		for j, f := range seg.Funcs {
			path := []string{fmt.Sprintf("element[%d]", i), fmt.Sprintf("entry[%d]", j)}
			if int(f) >= len(t.out.Functions) {
				return errors.OutOfBounds(errors.PhaseTranslate, path, int(f), len(t.out.Functions))
			}
			slot := uint64(seg.Offset) + uint64(j)
			if slot >= MaxTableSize {
				return errors.OutOfBounds(errors.PhaseTranslate, path, int(slot), MaxTableSize)
			}
			t.slots[uint32(slot)] = f
			size = max(size, uint32(slot)+1)
		}
	}
	t.out.Table.Size = size
	return nil
}

// checkSites rejects call_indirect sites whose type no table entry has.
// Mismatches on individual calls are left to Castfn at runtime.
func (t *translator) checkSites(sites []handler.IndirectSite) error {
	if len(t.slots) == 0 {
		return nil
	}
	present := make(map[uint32]bool)
	for _, f := range t.slots {
		present[t.out.Functions[f].Type] = true
	}
	for _, s := range sites {
		if present[s.TypeIdx] {
			continue
		}
		want := t.out.Types[s.TypeIdx]
		found := false
		for typ := range present {
			if t.out.Types[typ].Equal(want) {
				found = true
				break
			}
		}
		if !found {
			return errors.New(errors.PhaseTranslate, errors.KindTypeMismatch).
				Path(fmt.Sprintf("func[%d]", s.Func), fmt.Sprintf("offset 0x%x", s.Pos)).
				Want(want.String()).Got("no table entry").
				Detail("call_indirect type %d", s.TypeIdx).Build()
		}
	}
	return nil
}
