// Package il defines the typed stack IR produced by the translator.
//
// A Module holds signatures, functions, static fields for globals, data
// segments, host references and a string table. Functions are sequences of
// Instr values over an evaluation stack; control flow uses numbered labels
// marked in place with OpLabel.
//
// Memory is a single byte buffer referenced by a static slot. Loads and
// stores (OpLdind*, OpStind*) address it directly; OpLdMem and OpStMem read
// and replace the reference itself, which is how growth swaps buffers.
// The indirect-call table is likewise a static slot holding function
// handles, checked against a signature with OpCastfn before OpCalli.
//
// Encode and Decode serialize a Module as a ".w2ir" artifact: the "W2IR"
// magic, a version, a compression byte, and a zstd-compressed body.
package il
