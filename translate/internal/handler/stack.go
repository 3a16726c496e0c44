package handler

import "github.com/wippyai/wasm2ir/wasm"

// Stack mirrors the il evaluation stack by value type.
//
// Every handler keeps it in lockstep with what it emits, so its height is
// also the il stack height at the current emission point.
type Stack struct {
	entries []wasm.ValType
}

// NewStack creates an empty Stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push adds a value type to the top of the stack.
func (s *Stack) Push(t wasm.ValType) {
	s.entries = append(s.entries, t)
}

// Pop removes and returns the top type. ok is false on an empty stack.
func (s *Stack) Pop() (t wasm.ValType, ok bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	t = s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return t, true
}

// Peek returns the type n entries below the top (0 is the top).
func (s *Stack) Peek(n int) (wasm.ValType, bool) {
	i := len(s.entries) - 1 - n
	if i < 0 {
		return 0, false
	}
	return s.entries[i], true
}

// Len returns the current stack depth.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Truncate drops entries above height h.
func (s *Stack) Truncate(h int) {
	if h < len(s.entries) {
		s.entries = s.entries[:h]
	}
}

// Clear removes all entries from the stack.
func (s *Stack) Clear() {
	s.entries = s.entries[:0]
}
