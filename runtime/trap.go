package runtime

import (
	"fmt"
	"strings"
)

// TrapCode classifies a runtime fault.
type TrapCode string

const (
	TrapUnreachable              TrapCode = "unreachable"
	TrapDivideByZero             TrapCode = "integer divide by zero"
	TrapIntegerOverflow          TrapCode = "integer overflow"
	TrapInvalidConversion        TrapCode = "invalid conversion to integer"
	TrapOutOfBounds              TrapCode = "out of bounds memory access"
	TrapUndefinedElement         TrapCode = "undefined element"
	TrapUninitializedElement     TrapCode = "uninitialized element"
	TrapIndirectCallTypeMismatch TrapCode = "indirect call type mismatch"
	TrapNotImplemented           TrapCode = "not implemented"
	TrapCallStackExhausted       TrapCode = "call stack exhausted"
)

var trapCodes = []TrapCode{
	TrapUnreachable,
	TrapDivideByZero,
	TrapIntegerOverflow,
	TrapInvalidConversion,
	TrapOutOfBounds,
	TrapUndefinedElement,
	TrapUninitializedElement,
	TrapIndirectCallTypeMismatch,
	TrapNotImplemented,
	TrapCallStackExhausted,
}

// Trap is a guest fault.
type Trap struct {
	Code    TrapCode
	Message string
	// Func is the function executing when the fault was raised.
	Func string
}

func (t *Trap) Error() string {
	msg := t.Message
	if msg == "" {
		msg = string(t.Code)
	}
	if t.Func != "" {
		return fmt.Sprintf("trap in %s: %s", t.Func, msg)
	}
	return "trap: " + msg
}

// Is matches traps by code.
func (t *Trap) Is(target error) bool {
	other, ok := target.(*Trap)
	return ok && other.Code == t.Code
}

func newTrap(code TrapCode) *Trap {
	return &Trap{Code: code}
}

// trapFromMessage classifies the message of an emitted trap instruction.
// "not implemented: env.f" keeps the import name in the message.
func trapFromMessage(msg string) *Trap {
	for _, code := range trapCodes {
		if strings.HasPrefix(msg, string(code)) {
			return &Trap{Code: code, Message: msg}
		}
	}
	return &Trap{Code: TrapUnreachable, Message: msg}
}
