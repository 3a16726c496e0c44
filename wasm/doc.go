// Package wasm decodes WebAssembly 1.0 module binaries into a catalog.
//
// Decoding runs in two passes over one cursor. ParseModule walks every
// section in order, decodes types, imports, functions, table, memory,
// globals, exports and data eagerly, and records byte ranges (bookmarks)
// for code bodies and the element section. A second pass, driven by the
// translator once all function handles exist, seeks back with ReadLocals,
// ReadInstruction and ReadElements.
//
// Each section must be consumed exactly up to its declared end. Unknown
// section ids are skipped by length, and a malformed "name" custom section
// is recorded in Module.NameSectionErr and otherwise ignored.
//
// Supported value types are i32, i64, f32 and f64. Functions return at most
// one value. Beyond the 1.0 instruction set, sign extension, saturating
// truncation, memory.copy and memory.fill are decoded.
//
//	data, _ := os.ReadFile("module.wasm")
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, fn := range m.Functions() {
//	    fmt.Println(fn.Index, fn.Name)
//	}
package wasm
