// Package handler provides the per-opcode handlers that translate WASM
// function bodies into il.
//
// Handler categories:
//   - Control: block, loop, if, branches and return, resolved against a
//     stack of open frames
//   - Variable: locals, globals, constants, drop and select
//   - Memory: loads, stores, memory.size and memory.grow
//   - Numeric: arithmetic, comparisons, conversions and intrinsics
//   - Call: direct, host-bound and indirect calls
//
// Every handler keeps the operand-type Stack in lockstep with the il
// evaluation stack, so type checks and branch unwinding work from the
// type stack alone.
package handler
