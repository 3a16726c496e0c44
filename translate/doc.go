// Package translate converts a decoded WebAssembly module into an il
// module.
//
// Translation runs in two passes over the same binary. wasm.ParseModule
// reads the catalog sections and bookmarks the function bodies and the
// element section. Translate then creates one il function per import and
// declared function, seeks to each body bookmark and translates it
// instruction by instruction, and finally re-seeks to the element section
// to populate the indirect-call table with the finished functions.
//
// Imports are bound against a host.Registry. A resolved import becomes a
// thunk forwarding to the host function; an unresolved one becomes a stub
// that traps with "not implemented" when called, so translation succeeds
// and the fault surfaces only if the import is used.
//
// The module initializer allocates memory, initializes globals, copies
// data segments and fills the table, in that order:
//
//	m, err := translate.Translate(ctx, data, translate.Options{
//		Hosts: registry,
//	})
package translate
