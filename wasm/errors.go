package wasm

import "errors"

// Header errors. Decode failures wrap these as their cause.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("unsupported wasm version")
)
