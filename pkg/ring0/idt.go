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

package ring0

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"gvisor.dev/ringzero/pkg/layout"
)

// EntryStubs are the addresses of the low-level trap entry points.
type EntryStubs struct {
	// Exceptions holds the dedicated stub for each of vectors 0 through
	// 20, indexed by vector.
	Exceptions [NumExceptionStubs]uintptr

	// Interrupt is the shared entry used for every other vector in the
	// table. It reports GenericInterrupt as the trap number.
	Interrupt uintptr
}

// For returns the stub address the gate for v must point at.
func (s *EntryStubs) For(v Vector) uintptr {
	if v.IsException() {
		return s.Exceptions[v]
	}
	return s.Interrupt
}

// IDTOpts are the per-vector overrides applied when building the IDT.
type IDTOpts struct {
	// UserVectors are given DPL 3 so that INT n from ring 3 is permitted,
	// e.g. Breakpoint. All other gates are DPL 0.
	UserVectors []Vector

	// TrapGates use the trap gate type, leaving interrupts enabled on
	// entry. All other gates are interrupt gates.
	TrapGates []Vector

	// IST selects an interrupt stack table entry per vector. A non-zero
	// index requires a TSS, which must be installed by the caller.
	IST map[Vector]uint8

	// Image, if not empty, bounds every stub address.
	Image layout.Region
}

// Validate checks the options against the table size.
func (o *IDTOpts) Validate() error {
	check := func(what string, v Vector) error {
		if int(v) >= IDTEntries {
			return fmt.Errorf("%s vector %d outside the IDT (%d entries)", what, uint8(v), IDTEntries)
		}
		return nil
	}
	for _, v := range o.UserVectors {
		if err := check("user", v); err != nil {
			return err
		}
	}
	for _, v := range o.TrapGates {
		if err := check("trap gate", v); err != nil {
			return err
		}
	}
	for v, ist := range o.IST {
		if err := check("IST", v); err != nil {
			return err
		}
		if ist > MaxIST {
			return fmt.Errorf("IST index %d for vector %d out of range", ist, uint8(v))
		}
	}
	return nil
}

// IDT is the interrupt descriptor table.
type IDT struct {
	table  [IDTEntries][2]uint64
	sealed atomic.Bool
}

// Init binds every gate to its entry stub.
//
// Every vector gets a present gate: vectors without a dedicated stub use
// the shared interrupt entry, so a spurious event never hits a missing
// descriptor.
func (t *IDT) Init(stubs *EntryStubs, opts *IDTOpts) error {
	if t.sealed.Load() {
		return ErrSealed
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	dpl := make(map[Vector]uint8)
	for _, v := range opts.UserVectors {
		dpl[v] = 3
	}
	typ := make(map[Vector]GateType)
	for _, v := range opts.TrapGates {
		typ[v] = TrapGate
	}

	var table [IDTEntries][2]uint64
	for i := 0; i < IDTEntries; i++ {
		v := Vector(i)
		addr := stubs.For(v)
		if addr == 0 {
			return fmt.Errorf("no entry stub for vector %d (%v)", i, v)
		}
		if !opts.Image.Empty() && !opts.Image.Contains(uint64(addr)) {
			return fmt.Errorf("entry stub %#x for vector %d outside kernel image %v", addr, i, opts.Image)
		}
		gt, ok := typ[v]
		if !ok {
			gt = InterruptGate
		}
		lo, hi := GateDescriptor{
			Selector: Kcode,
			Offset:   uint64(addr),
			IST:      opts.IST[v],
			Type:     gt,
			DPL:      dpl[v],
			Present:  true,
		}.Pack()
		table[i] = [2]uint64{lo, hi}
	}
	t.table = table
	return nil
}

// Gate returns the gate for vector v.
func (t *IDT) Gate(v Vector) GateDescriptor {
	e := t.table[v]
	return UnpackGate(e[0], e[1])
}

// Bytes returns the table as it appears in memory.
func (t *IDT) Bytes() []byte {
	b := make([]byte, 0, IDTEntries*GateSize)
	for _, e := range t.table {
		b = binary.LittleEndian.AppendUint64(b, e[0])
		b = binary.LittleEndian.AppendUint64(b, e[1])
	}
	return b
}

// Pointer returns the IDT register value for this table.
//
//go:nosplit
func (t *IDT) Pointer() DescriptorPointer {
	return DescriptorPointer{
		Limit: uint16(sizeOf(&t.table) - 1),
		Base:  kernelAddr(&t.table),
	}
}

// Sealed returns true once the table has been installed.
func (t *IDT) Sealed() bool {
	return t.sealed.Load()
}

// Install seals the table and loads it into the CPU.
func (t *IDT) Install(hw Hardware) {
	t.sealed.Store(true)
	hw.LoadIDT(t.Pointer())
}
