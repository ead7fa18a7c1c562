package syscall

import (
	"pios/kernel/kfmt"
	"testing"
)

func TestDispatchZeroArg(t *testing.T) {
	reset()
	Register(0, Zero, func() int32 { return 42 })

	got, err := Dispatch(0, 0, 0, 0)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != 42 {
		t.Fatalf("Dispatch = %d, want 42", got)
	}
}

func TestDispatchThreeArg(t *testing.T) {
	reset()
	Register(1, Three, func(a, b, c uint32) int32 { return int32(a + b + c) })

	got, err := Dispatch(1, 1, 2, 3)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != 6 {
		t.Fatalf("Dispatch = %d, want 6", got)
	}
}

func TestDispatchUnregisteredReturnsError(t *testing.T) {
	reset()
	if _, err := Dispatch(5, 0, 0, 0); err != ErrNoSuchCall {
		t.Fatalf("Dispatch err = %v, want ErrNoSuchCall", err)
	}
}

func TestRegisterOutOfRangePanics(t *testing.T) {
	reset()
	defer func() { panicFn = kfmt.Panic }()

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	Register(MaxCalls, Zero, func() int32 { return 0 })

	if gotPanic == nil {
		t.Fatalf("Register(MaxCalls, ...) did not panic")
	}
}

func TestRegisterDoubleRegistrationPanics(t *testing.T) {
	reset()
	Register(2, Zero, func() int32 { return 0 })

	defer func() { panicFn = kfmt.Panic }()

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	Register(2, Zero, func() int32 { return 1 })

	if gotPanic == nil {
		t.Fatalf("double Register did not panic")
	}
}
