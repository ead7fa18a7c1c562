package vmm

import (
	"bytes"
	"fmt"
	"pios/kernel/cpu"
	"pios/kernel/irq"
	"pios/kernel/kfmt"
	"strings"
	"testing"
)

func TestPageFaultHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		panicFn = kfmt.Panic
		kfmt.SetOutputSink(nil)
	}()

	var (
		regs  irq.Regs
		frame irq.Frame
		buf   bytes.Buffer
	)

	kfmt.SetOutputSink(&buf)
	readCR2Fn = func() uint32 { return 0xbadf00d0 }

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	pageFaultHandler(2, &frame, &regs)

	if gotPanic != errUnrecoverableFault {
		t.Errorf("expected a panic with errUnrecoverableFault; got %v", gotPanic)
	}
}

func TestNonRecoverablePageFault(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
		kfmt.SetOutputSink(nil)
	}()

	specs := []struct {
		errCode   uint32
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{0xf00, "unknown"},
	}

	var (
		regs  irq.Regs
		frame irq.Frame
		buf   bytes.Buffer
	)

	kfmt.SetOutputSink(&buf)
	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()

			var gotPanic interface{}
			panicFn = func(e interface{}) { gotPanic = e }

			nonRecoverablePageFault(0xbadf00d0, spec.errCode, &frame, &regs, errUnrecoverableFault)
			if gotPanic != errUnrecoverableFault {
				t.Errorf("expected a panic with errUnrecoverableFault; got %v", gotPanic)
			}
			if got := buf.String(); !strings.Contains(got, spec.expReason) {
				t.Errorf("expected reason %q; got output:\n%q", spec.expReason, got)
			}
		})
	}
}

func TestGPFHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		panicFn = kfmt.Panic
	}()

	var (
		regs  irq.Regs
		frame irq.Frame
	)

	readCR2Fn = func() uint32 {
		return 0xbadf00d0
	}

	var gotPanic interface{}
	panicFn = func(e interface{}) { gotPanic = e }

	generalProtectionFaultHandler(0, &frame, &regs)

	if gotPanic != errUnrecoverableFault {
		t.Errorf("expected a panic with errUnrecoverableFault; got %v", gotPanic)
	}
}
