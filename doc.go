// Package wasm2ir translates WebAssembly modules ahead of time into a
// typed stack-machine intermediate language and runs the result.
//
// # Architecture Overview
//
// The repository is organized into packages with distinct responsibilities:
//
//	wasm2ir/             Compile pipeline facade (single and multi-file)
//	├── wasm/            Module catalog: header and section readers
//	├── translate/       Instruction translator and module assembly
//	├── il/              Intermediate language, builder, artifact codec
//	├── host/            Host function registry and per-instance context
//	│   └── wasi/        WASI preview1 host functions
//	├── runtime/         Interpreter for translated modules
//	├── verify/          Differential check against wazero
//	├── config/          Layered configuration
//	├── errors/          Structured error types for debugging
//	└── cmd/wasm2ir/     Command-line interface
//
// # Quick Start
//
// Translate a file into an artifact:
//
//	res, err := wasm2ir.CompileFile(ctx, "add.wasm", "add.w2ir", wasm2ir.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Functions, "functions")
//
// Translate and run in memory:
//
//	m, err := wasm2ir.Compile(ctx, wasmBytes, wasm2ir.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	inst, err := runtime.New(nil).Instantiate(ctx, m, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	sum, err := inst.Call(ctx, "add", 2, 3)
//
// # Thread Safety
//
// Compile, CompileFile and CompileAll are safe for concurrent use; every
// call owns its translation state. A runtime Instance is NOT thread-safe
// and should be used by a single goroutine.
//
// # Memory Model
//
// Translated linear memory can only grow. memory.grow allocates a new
// buffer, copies the old contents and replaces the memory reference.
package wasm2ir
