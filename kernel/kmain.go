package kernel

import (
	"pios/kernel/ata"
	"pios/kernel/fs"
	"pios/kernel/gate"
	"pios/kernel/goruntime"
	"pios/kernel/hal"
	"pios/kernel/hal/multiboot"
	"pios/kernel/kfmt"
	"pios/kernel/mem/pmm"
	"pios/kernel/mem/pmm/allocator"
	"pios/kernel/mem/vmm"
	"pios/kernel/proc"
	"pios/kernel/syscall"
	"pios/kernel/task"
)

// kernelPageOffset is the virtual address at which the kernel image, and
// the self-referencing page directory trick vmm relies on, are mapped in
// every process's address space.
const kernelPageOffset = 0xC0000000

// initPath is the image the first process execs, analogous to a Unix
// init binary. A real bootable image ships this at the fixed path a
// cmd/mkfs invocation placed it at.
const initPath = "/bin/init"

// Kmain is the only Go symbol visible from the rt0 initialization code. It
// is invoked after rt0 has set up the GDT and a minimal g0 struct so Go
// code can run on the 4K stack the assembly trampoline allocated.
//
// The rt0 code passes the address of the multiboot info payload the
// bootloader left behind, along with the physical start/end addresses of
// the loaded kernel image (used to keep the boot allocator from handing
// out frames the kernel itself occupies).
//
// Kmain is not expected to return; if it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.DetectHardware()
	hal.ClearConsole()
	kfmt.Printf("pios booting\n")

	allocator.Init(kernelStart, kernelEnd)
	vmm.SetFrameAllocator(allocator.AllocFrame)
	// The boot allocator hands out frames from a monotonically advancing
	// counter and cannot reclaim them; freeing is a no-op until a real
	// kernel would hand off to a bitmap-based allocator post-boot.
	proc.SetFrameAllocator(allocator.AllocFrame, func(pmm.Frame) {})

	if err := vmm.Init(kernelPageOffset); err != nil {
		kfmt.Panic(err)
	}
	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	gate.Init()
	gate.HandleInterrupt(gate.Syscall, dispatchSyscall)

	task.Sched.Init()
	syscall.Init()

	mountRoot()

	bootInit()

	for {
		task.Sched.Schedule()
	}
}

// dispatchSyscall is the int 0x80 entry point's Go-side handler: it reads
// the call number and arguments off the trapped register snapshot and
// writes the result back to EAX, exactly as a user-mode task expects
// after its trap returns.
func dispatchSyscall(regs *gate.Registers) {
	ret, err := syscall.Dispatch(uint8(regs.EAX), regs.EBX, regs.ECX, regs.EDX)
	if err != nil {
		ret = -1
	}
	regs.EAX = uint32(ret)
}

// rootPartition is populated by mountRoot once ATA identification finds a
// present disk; kept at package scope so bootInit can Exec against it
// without re-probing the bus.
var rootPartition *fs.Partition

// mountRoot probes both legacy ATA channels for a present master drive and
// mounts a pios file system on the first one found. A system with no
// attached disk boots with rootPartition left nil; Exec calls against it
// will simply fail, matching how a real bring-up with missing storage
// behaves.
func mountRoot() {
	channels := []*ata.Channel{
		ata.NewChannel("ata0", 0x1F0, 14, &task.Sched),
		ata.NewChannel("ata1", 0x170, 15, &task.Sched),
	}

	for _, c := range channels {
		c := c // per-iteration copy: each closure must bind its own channel
		gate.HandleInterrupt(gate.InterruptNumber(0x20+c.IRQ), func(_ *gate.Registers) {
			c.HandleIRQ()
		})

		disk, err := c.Identify(0)
		if err != nil || disk == nil || !disk.Present {
			continue
		}

		p, merr := fs.Mount("root", disk, 0, disk.SectorCount)
		if merr != nil {
			kfmt.Printf("[kmain] mounting %s: %s\n", c.Name, merr.Error())
			continue
		}

		rootPartition = p
		kfmt.Printf("[kmain] mounted root fs on %s (%d sectors)\n", c.Name, disk.SectorCount)
		return
	}

	kfmt.Printf("[kmain] no ATA disk found; booting without a root fs\n")
}

// bootInit spawns the first real process (pid 1, since Scheduler.Init
// reserves pid 0 for the idle task) and execs the on-disk init binary into
// it, the same way a Unix kernel's first userspace process comes to life.
// If no root fs was mounted, or it has no init binary, the kernel stays up
// with only its own kernel task running the scheduler loop.
func bootInit() {
	p, err := proc.Spawn("init", 10, 0)
	if err != nil {
		kfmt.Printf("[kmain] spawning init: %s\n", err.Error())
		return
	}

	if rootPartition == nil {
		return
	}

	if err := proc.Exec(p, rootPartition, initPath); err != nil {
		kfmt.Printf("[kmain] exec %s: %s\n", initPath, err.Error())
	}
}
