package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm2ir"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/translate"
	"github.com/wippyai/wasm2ir/wasm"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("#666666"))
	stubStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
)

func getCmdInspect(gs *globalState) *cobra.Command {
	var noDisasm bool

	cmd := &cobra.Command{
		Use:   "inspect <in.wasm|in.w2ir>",
		Short: "Show the module catalog and the il disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]

			var m *il.Module
			if filepath.Ext(path) == il.ArtifactExt {
				var err error
				if m, err = il.ReadFile(gs.fs, path); err != nil {
					return err
				}
			} else {
				data, err := afero.ReadFile(gs.fs, path)
				if err != nil {
					return errors.New(errors.PhaseDecode, errors.KindNotFound).
						Path(path).Detail("read input").Cause(err).Build()
				}
				src, err := wasm.ParseModule(data)
				if err != nil {
					return err
				}
				fmt.Fprintln(gs.stdout, renderCatalog(path, src))

				hosts, err := wasm2ir.DefaultHosts()
				if err != nil {
					return err
				}
				m, err = translate.Module(gs.ctx, src, data, translate.Options{
					Hosts:              hosts,
					DefaultMemoryPages: gs.cfg.MemoryPages,
				})
				if err != nil {
					return err
				}
			}

			fmt.Fprintln(gs.stdout, renderFunctions(m))
			if noDisasm {
				return nil
			}
			fmt.Fprintln(gs.stdout, headingStyle.Render("Disassembly"))
			return il.Disassemble(gs.stdout, m)
		},
	}
	cmd.Flags().BoolVar(&noDisasm, "no-disasm", false, "print only the summary")
	return cmd
}

func renderCatalog(path string, m *wasm.Module) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Module " + path))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("types", fmt.Sprint(len(m.Types)))
	row("imports", fmt.Sprint(len(m.Imports)))
	row("funcs", fmt.Sprintf("%d (%d imported)", m.NumFuncs(), m.NumImportedFuncs()))
	if m.Memory != nil {
		mem := fmt.Sprintf("%d pages", m.Memory.Min)
		if m.Memory.HasMax {
			mem += fmt.Sprintf(", max %d", m.Memory.Max)
		}
		if m.MemoryImported {
			mem += ", imported"
		}
		row("memory", mem)
	}
	if m.Table != nil {
		row("table", fmt.Sprintf("%d slots", m.Table.Limits.Min))
	}
	row("globals", fmt.Sprint(len(m.Globals)))
	row("exports", fmt.Sprint(len(m.Exports)))
	row("data", fmt.Sprintf("%d segments", len(m.Data)))

	for _, imp := range m.Imports {
		if imp.Kind != wasm.KindFunc {
			continue
		}
		sig := "?"
		if int(imp.TypeIdx) < len(m.Types) {
			sig = m.Types[imp.TypeIdx].String()
		}
		row("import", fmt.Sprintf("%s.%s %s", imp.Module, imp.Name, sig))
	}
	return b.String()
}

func renderFunctions(m *il.Module) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Functions"))
	b.WriteString("\n")
	for i, f := range m.Functions {
		line := fmt.Sprintf("%4d  %s%s", i, f.Name, f.Signature())
		switch f.Kind {
		case il.KindStub:
			line = stubStyle.Render(line + "  [stub]")
		case il.KindHostThunk:
			line += "  [host " + m.Hosts[f.Host].Key() + "]"
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(headingStyle.Render("Exports"))
	b.WriteString("\n")
	for _, name := range exportNames(m) {
		b.WriteString("      " + name + "\n")
	}
	return b.String()
}
