// Package host provides the statically populated registry of host
// functions that WASM imports bind to, and the per-instance Context those
// functions receive.
//
// A Registry is owned by whoever creates it. Translation consults it to
// decide whether an import becomes a host call or a trapping stub, and the
// runtime consults it again to bind the implementation. There are no
// process-wide registries or contexts.
//
// Basic usage:
//
//	reg := host.NewRegistry()
//	if err := wasi.Register(reg); err != nil {
//		return err
//	}
//	hc := host.NewContext().WithArgs([]string{"prog"}).WithFs(afero.NewMemMapFs())
package host
