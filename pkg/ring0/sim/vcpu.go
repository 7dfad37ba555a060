// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sim is a software model of the parts of an x86_64 processor that
// package ring0 programs: the descriptor table registers, segment loads and
// exception delivery.
//
// A VCPU implements ring0.Hardware, so a ring0.Kernel can be brought up and
// traps can be delivered end to end without privileged instructions. Table
// registers hold the addresses of the kernel's tables; a vCPU can read only
// the tables mapped by MapKernel.
package sim

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/pkg/ring0"
)

var (
	// ErrTripleFault is returned when an exception cannot be delivered.
	// Real hardware would shut down.
	ErrTripleFault = errors.New("triple fault")

	// ErrHalted is returned when a halted vCPU is asked to do work.
	ErrHalted = errors.New("vCPU halted")

	// ErrNotStarted is returned when a vCPU has no kernel CPU.
	ErrNotStarted = errors.New("vCPU not started")
)

// RFLAGS bits.
const (
	rflagsReserved = 1 << 1
	rflagsIF       = 1 << 9

	initialRflags = rflagsReserved | rflagsIF
)

// Segment is a segment register: the selector and the descriptor cached
// from the GDT when it was loaded.
type Segment struct {
	Selector   ring0.Selector
	Descriptor ring0.SegmentDescriptor
}

// VCPU is a simulated processor.
//
// A VCPU is driven by one goroutine at a time.
type VCPU struct {
	id    int
	stubs *StubImage
	cpu   *ring0.CPU

	// Regs are the general purpose and data segment registers.
	Regs ring0.StubRegs

	// Rip, Rsp and Rflags are the remaining architectural registers.
	Rip    uint64
	Rsp    uint64
	Rflags uint64

	gdtr ring0.DescriptorPointer
	idtr ring0.DescriptorPointer
	mem  memoryMap

	cs Segment
	ds Segment
	es Segment
	ss Segment

	// fault records a failed segment load. Hardware would raise #GP.
	fault error

	halted    atomic.Bool
	delivered atomic.Uint64

	// deliveries logs exception delivery. A storm of device interrupts
	// is reduced to one line per interval.
	deliveries log.Logger
}

var _ ring0.Hardware = (*VCPU)(nil)

const deliveryLogInterval = 100 * time.Millisecond

// NewVCPU returns a vCPU in its reset state whose IDT will point at stubs.
func NewVCPU(id int, stubs *StubImage) *VCPU {
	return &VCPU{
		id:         id,
		stubs:      stubs,
		Rflags:     initialRflags,
		deliveries: log.BasicRateLimitedLogger(deliveryLogInterval),
	}
}

// ID returns the vCPU id.
func (v *VCPU) ID() int {
	return v.id
}

// CPU returns the kernel CPU bound by Attach, or nil.
func (v *VCPU) CPU() *ring0.CPU {
	return v.cpu
}

// Attach binds the kernel CPU that handles traps on v.
func (v *VCPU) Attach(c *ring0.CPU) {
	v.cpu = c
}

// MapKernel makes the descriptor tables of k readable at the addresses
// their table registers report. It must be called before the vCPU runs.
func (v *VCPU) MapKernel(k *ring0.Kernel) {
	ptr, size := k.GDT().Memory()
	v.mem.add(k.GDT().Pointer().Base, ptr, size)
	ptr, size = k.IDT().Memory()
	v.mem.add(k.IDT().Pointer().Base, ptr, size)
}

// GDTR returns the GDT register.
func (v *VCPU) GDTR() ring0.DescriptorPointer {
	return v.gdtr
}

// IDTR returns the IDT register.
func (v *VCPU) IDTR() ring0.DescriptorPointer {
	return v.idtr
}

// CS returns the code segment register.
func (v *VCPU) CS() Segment {
	return v.cs
}

// DS returns the data segment register.
func (v *VCPU) DS() Segment {
	return v.ds
}

// ES returns the extra segment register.
func (v *VCPU) ES() Segment {
	return v.es
}

// SS returns the stack segment register.
func (v *VCPU) SS() Segment {
	return v.ss
}

// Fault returns the error from the last failed segment load, if any.
func (v *VCPU) Fault() error {
	return v.fault
}

// Halted returns true once the vCPU has halted.
func (v *VCPU) Halted() bool {
	return v.halted.Load()
}

// Delivered returns the number of exceptions delivered.
func (v *VCPU) Delivered() uint64 {
	return v.delivered.Load()
}

// LoadGDT implements ring0.Hardware.LoadGDT.
func (v *VCPU) LoadGDT(p ring0.DescriptorPointer) {
	v.gdtr = p
}

// LoadIDT implements ring0.Hardware.LoadIDT.
func (v *VCPU) LoadIDT(p ring0.DescriptorPointer) {
	v.idtr = p
}

// ReloadSegments implements ring0.Hardware.ReloadSegments.
//
// Either every register is loaded or, on a bad selector, none is and the
// error is available from Fault.
func (v *VCPU) ReloadSegments(code, data ring0.Selector) {
	ds, err := v.loadSegment(data, false)
	if err != nil {
		v.fault = fmt.Errorf("loading data segments: %w", err)
		return
	}
	cs, err := v.loadSegment(code, true)
	if err != nil {
		v.fault = fmt.Errorf("loading CS: %w", err)
		return
	}
	v.cs, v.ds, v.es, v.ss = cs, ds, ds, ds
	v.Regs.Ds = uint64(data)
	v.Regs.Es = uint64(data)
	v.fault = nil
}

// Halt implements ring0.Hardware.Halt.
func (v *VCPU) Halt() {
	v.halted.Store(true)
}

// loadSegment reads the descriptor for sel from the current GDT and checks
// it may be loaded into CS (code) or a data segment register.
func (v *VCPU) loadSegment(sel ring0.Selector, code bool) (Segment, error) {
	if sel.LDT() {
		return Segment{}, fmt.Errorf("selector %#x refers to the LDT", uint16(sel))
	}
	if sel.Index() == 0 {
		if code {
			return Segment{}, fmt.Errorf("null code selector")
		}
		return Segment{Selector: sel}, nil
	}
	if end := sel.Index()*8 + 7; end > int(v.gdtr.Limit) || v.gdtr.Base == 0 {
		return Segment{}, fmt.Errorf("selector %#x beyond GDT limit %#x", uint16(sel), v.gdtr.Limit)
	}
	raw, err := v.mem.readUint64(v.gdtr.Base + uint64(sel.Index())*8)
	if err != nil {
		return Segment{}, fmt.Errorf("selector %#x: %w", uint16(sel), err)
	}
	d := ring0.UnpackSegment(raw)
	if !d.Present {
		return Segment{}, fmt.Errorf("selector %#x: segment not present", uint16(sel))
	}
	if code {
		if !d.IsCode() || !d.Long {
			return Segment{}, fmt.Errorf("selector %#x: %v is not a 64-bit code segment", uint16(sel), d)
		}
	} else if !d.CodeData || d.IsCode() || d.Type&ring0.SegmentTypeReadWrite == 0 {
		return Segment{}, fmt.Errorf("selector %#x: %v is not a writable data segment", uint16(sel), d)
	}
	return Segment{Selector: sel, Descriptor: d}, nil
}

// gate resolves vector through the current IDT.
func (v *VCPU) gate(vector ring0.Vector) (ring0.GateDescriptor, Segment, ring0.Vector, error) {
	off := uint64(vector) * ring0.GateSize
	if v.idtr.Base == 0 || off+ring0.GateSize-1 > uint64(v.idtr.Limit) {
		return ring0.GateDescriptor{}, Segment{}, 0, fmt.Errorf("vector beyond IDT limit %#x", v.idtr.Limit)
	}
	addr := v.idtr.Base + off
	lo, err := v.mem.readUint64(addr)
	if err != nil {
		return ring0.GateDescriptor{}, Segment{}, 0, err
	}
	hi, err := v.mem.readUint64(addr + 8)
	if err != nil {
		return ring0.GateDescriptor{}, Segment{}, 0, err
	}
	g := ring0.UnpackGate(lo, hi)
	if !g.Present {
		return g, Segment{}, 0, fmt.Errorf("gate not present")
	}
	cs, err := v.loadSegment(g.Selector, true)
	if err != nil {
		return g, Segment{}, 0, fmt.Errorf("gate selector: %w", err)
	}
	trapNo, err := v.stubs.TrapNumber(g.Offset)
	if err != nil {
		return g, Segment{}, 0, err
	}
	if ring0.HasErrorCode(vector) != ring0.HasErrorCode(trapNo) {
		return g, Segment{}, 0, fmt.Errorf("stub for %v expects a different frame than %v", trapNo, vector)
	}
	return g, cs, trapNo, nil
}

// Raise delivers an exception or interrupt as the hardware would, runs
// the stub contract and the kernel's dispatcher, and on Continue returns
// from the interrupt with the state in the (possibly modified) frame.
//
// errorCode is ignored for vectors without a hardware error code.
func (v *VCPU) Raise(vector ring0.Vector, errorCode uint64) (ring0.ResumeAction, error) {
	if v.Halted() {
		return ring0.Fatal, ErrHalted
	}
	if v.cpu == nil {
		return ring0.Fatal, ErrNotStarted
	}
	g, cs, trapNo, err := v.gate(vector)
	if err != nil {
		v.Halt()
		return ring0.Fatal, fmt.Errorf("%w: delivering vector %d: %w", ErrTripleFault, uint8(vector), err)
	}

	// The CPU pushes SS, RSP, RFLAGS, CS, RIP and the error code, if any.
	pushed := make([]uint64, 0, ring0.FrameHardwareWords+1)
	if ring0.HasErrorCode(vector) {
		pushed = append(pushed, errorCode)
	}
	pushed = append(pushed, v.Rip, uint64(v.cs.Selector), v.Rflags, v.Rsp, uint64(v.ss.Selector))
	if g.Type == ring0.InterruptGate {
		v.Rflags &^= rflagsIF
	}
	v.cs = cs
	v.Rip = g.Offset
	v.delivered.Add(1)

	// The stub saves the registers and pushes its trap number.
	regs := v.Regs
	f, err := ring0.BuildFrame(trapNo, &regs, pushed)
	if err != nil {
		v.Halt()
		return ring0.Fatal, fmt.Errorf("%w: %v", ErrTripleFault, err)
	}
	v.deliveries.Debugf("vCPU %d: %v (vector %d) via stub %#x", v.id, vector, uint8(vector), g.Offset)

	if action := v.cpu.Trap(f); action != ring0.Continue {
		return action, nil
	}
	return ring0.Continue, v.iret(f)
}

// iret restores state from f as the stub and IRETQ would. FS and GS keep
// their current values.
func (v *VCPU) iret(f *ring0.TrapFrame) error {
	var segs [4]Segment
	for i, load := range []struct {
		sel  uint64
		code bool
	}{
		{f.Ds, false},
		{f.Es, false},
		{f.Cs, true},
		{f.Ss, false},
	} {
		s, err := v.loadSegment(ring0.Selector(load.sel), load.code)
		if err != nil {
			v.Halt()
			return fmt.Errorf("%w: returning from interrupt: %w", ErrTripleFault, err)
		}
		segs[i] = s
	}
	regs := f.StubRegs()
	regs.Fs, regs.Gs = v.Regs.Fs, v.Regs.Gs
	v.Regs = regs
	v.Rip = f.Rip
	v.Rflags = f.Rflags
	v.Rsp = f.Rsp
	v.ds, v.es, v.cs, v.ss = segs[0], segs[1], segs[2], segs[3]
	return nil
}
