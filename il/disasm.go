package il

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Disassemble writes a text listing of m to w.
func Disassemble(w io.Writer, m *Module) error {
	bw := bufio.NewWriter(w)

	if m.Memory.Present {
		fmt.Fprintf(bw, ".memory %d pages", m.Memory.Pages)
		if m.Memory.HasMax {
			fmt.Fprintf(bw, " max %d", m.Memory.Max)
		}
		if m.Memory.Imported {
			bw.WriteString(" imported")
		}
		bw.WriteByte('\n')
	}
	if m.Table.Present {
		fmt.Fprintf(bw, ".table %d\n", m.Table.Size)
	}
	for i, g := range m.Globals {
		mut := "const"
		if g.Mutable {
			mut = "mut"
		}
		fmt.Fprintf(bw, ".field %d %s %s %s\n", i, g.Name, mut, g.Type)
	}
	for i, d := range m.Data {
		fmt.Fprintf(bw, ".data %d (%d bytes)\n", i, len(d))
	}
	for i, h := range m.Hosts {
		fmt.Fprintf(bw, ".host %d %s %s", i, h.Key(), Signature{Params: h.Params, Result: h.Result})
		if h.NeedsContext {
			bw.WriteString(" ctx")
		}
		bw.WriteByte('\n')
	}
	for _, e := range m.Exports {
		fmt.Fprintf(bw, ".export %s -> %d\n", strconv.Quote(e.Name), e.Func)
	}

	if m.Init != nil {
		bw.WriteByte('\n')
		writeFunction(bw, m, -1, m.Init)
	}
	for i, f := range m.Functions {
		bw.WriteByte('\n')
		writeFunction(bw, m, i, f)
	}

	return bw.Flush()
}

func writeFunction(w *bufio.Writer, m *Module, idx int, f *Function) {
	if idx >= 0 {
		fmt.Fprintf(w, ".func %d %s %s [%s]\n", idx, f.Name, f.Signature(), f.Kind)
	} else {
		fmt.Fprintf(w, ".init %s\n", f.Name)
	}
	for i, t := range f.Locals {
		fmt.Fprintf(w, "  .local %d %s\n", i, t)
	}
	for _, in := range f.Code {
		if in.Op == OpLabel {
			fmt.Fprintf(w, "%s\n", in)
			continue
		}
		fmt.Fprintf(w, "    %s", in)
		if in.Op == OpTrap && int(in.Arg) < len(m.Strings) {
			fmt.Fprintf(w, "  ; %s", strconv.Quote(m.Strings[in.Arg]))
		}
		if in.Op == OpCall && int(in.Arg) < len(m.Functions) {
			fmt.Fprintf(w, "  ; %s", m.Functions[in.Arg].Name)
		}
		if in.Op == OpCallHost && int(in.Arg) < len(m.Hosts) {
			fmt.Fprintf(w, "  ; %s", m.Hosts[in.Arg].Key())
		}
		w.WriteByte('\n')
	}
}
