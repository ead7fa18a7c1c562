// Package syscall implements the int 0x80 system-call dispatch table: a
// fixed 32-slot registration table indexed by call number, each slot a
// zero/one/two/three-argument closure returning a 32-bit value, mirroring
// how the interrupt handler can only hand the callee eax/ebx/ecx/edx.
package syscall

import (
	"pios/kernel"
	"pios/kernel/kfmt"
)

// panicFn is invoked for Register's programming errors. Seam so tests can
// observe the call instead of halting the test binary.
var panicFn = kfmt.Panic

// MaxCalls bounds the registration table; eax's low byte indexes into it.
const MaxCalls = 32

// Arity tags which closure shape a slot holds.
type Arity int

// Argument arities a registered call may take.
const (
	Zero Arity = iota
	One
	Two
	Three
)

// Handler is a registered call's closure, cast according to its Arity:
//
//	Zero:  func() int32
//	One:   func(a uint32) int32
//	Two:   func(a, b uint32) int32
//	Three: func(a, b, c uint32) int32
type Handler struct {
	Arity Arity
	Fn    interface{}
}

var table [MaxCalls]*Handler

// Register installs fn under call number num. It panics on an out-of-range
// number or a double registration, both programming errors caught at
// kernel init time rather than at runtime.
func Register(num uint8, arity Arity, fn interface{}) {
	if int(num) >= MaxCalls {
		panicFn("syscall: call number out of range")
		return
	}
	if table[num] != nil {
		panicFn("syscall: call number already registered")
		return
	}
	table[num] = &Handler{Arity: arity, Fn: fn}
}

// ErrNoSuchCall is returned by Dispatch when eax names an unregistered
// slot.
var ErrNoSuchCall = &kernel.Error{Module: "syscall", Message: "no such system call"}

// Dispatch invokes the handler registered under num with up to three
// arguments (unused ones are ignored per the handler's declared arity),
// as the int 0x80 entry point does after reading eax/ebx/ecx/edx.
func Dispatch(num uint8, a, b, c uint32) (int32, error) {
	if int(num) >= MaxCalls || table[num] == nil {
		return -1, ErrNoSuchCall
	}

	h := table[num]
	switch h.Arity {
	case Zero:
		return h.Fn.(func() int32)(), nil
	case One:
		return h.Fn.(func(uint32) int32)(a), nil
	case Two:
		return h.Fn.(func(uint32, uint32) int32)(a, b), nil
	case Three:
		return h.Fn.(func(uint32, uint32, uint32) int32)(a, b, c), nil
	default:
		return -1, ErrNoSuchCall
	}
}

// reset clears the table; used by tests so each test starts from a clean
// registration state.
func reset() {
	for i := range table {
		table[i] = nil
	}
}
