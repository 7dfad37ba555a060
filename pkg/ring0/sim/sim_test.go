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

package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/ringzero/pkg/ring0"
)

type bufferConsole struct {
	strings.Builder
}

func (c *bufferConsole) Printf(format string, args ...any) {
	fmt.Fprintf(&c.Builder, format, args...)
}

// newMachine returns a started machine after calling register on its
// kernel.
func newMachine(t *testing.T, cpus int, opts ring0.IDTOpts, register func(k *ring0.Kernel)) (*Machine, *bufferConsole) {
	t.Helper()
	console := new(bufferConsole)
	m, err := NewMachine(MachineOpts{CPUs: cpus, IDT: opts, Console: console})
	if err != nil {
		t.Fatalf("NewMachine() failed: %v", err)
	}
	if register != nil {
		register(m.Kernel())
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return m, console
}

func TestStubImage(t *testing.T) {
	s := NewStubImage(0x1000)
	stubs := s.Stubs()
	for v := 0; v < ring0.NumExceptionStubs; v++ {
		got, err := s.TrapNumber(uint64(stubs.Exceptions[v]))
		if err != nil || got != ring0.Vector(v) {
			t.Errorf("TrapNumber(stub %d) = %d, %v", v, got, err)
		}
		if !s.Region().Contains(uint64(stubs.Exceptions[v])) {
			t.Errorf("stub %d at %#x outside %v", v, stubs.Exceptions[v], s.Region())
		}
	}
	if got, err := s.TrapNumber(uint64(stubs.Interrupt)); err != nil || got != ring0.GenericInterrupt {
		t.Errorf("TrapNumber(interrupt) = %d, %v", got, err)
	}
	if _, err := s.TrapNumber(0x1001); err == nil {
		t.Errorf("TrapNumber(0x1001) succeeded")
	}
}

func TestMachineStart(t *testing.T) {
	m, _ := newMachine(t, 4, ring0.IDTOpts{}, nil)
	k := m.Kernel()
	for _, v := range m.VCPUs() {
		if v.GDTR() != k.GDT().Pointer() {
			t.Errorf("vCPU %d: GDTR %+v, want %+v", v.ID(), v.GDTR(), k.GDT().Pointer())
		}
		if v.IDTR() != k.IDT().Pointer() {
			t.Errorf("vCPU %d: IDTR %+v, want %+v", v.ID(), v.IDTR(), k.IDT().Pointer())
		}
		if diff := cmp.Diff(Segment{Selector: ring0.Kcode, Descriptor: ring0.KernelCodeSegment}, v.CS()); diff != "" {
			t.Errorf("vCPU %d: CS mismatch (-want +got):\n%s", v.ID(), diff)
		}
		for name, s := range map[string]Segment{"DS": v.DS(), "ES": v.ES(), "SS": v.SS()} {
			if diff := cmp.Diff(Segment{Selector: ring0.Kdata, Descriptor: ring0.KernelDataSegment}, s); diff != "" {
				t.Errorf("vCPU %d: %s mismatch (-want +got):\n%s", v.ID(), name, diff)
			}
		}
		if !v.CPU().Installed() {
			t.Errorf("vCPU %d: tables not installed", v.ID())
		}
	}
}

func TestMachineStartCanceled(t *testing.T) {
	m, err := NewMachine(MachineOpts{CPUs: 2, Console: new(bufferConsole)})
	if err != nil {
		t.Fatalf("NewMachine() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() = %v, want %v", err, context.Canceled)
	}
}

func TestNewMachineErrors(t *testing.T) {
	if _, err := NewMachine(MachineOpts{}); err == nil {
		t.Errorf("NewMachine() with no CPUs succeeded")
	}
	if _, err := NewMachine(MachineOpts{CPUs: 1, IDT: ring0.IDTOpts{UserVectors: []ring0.Vector{0x40}}}); err == nil {
		t.Errorf("NewMachine() with a bad user vector succeeded")
	}
}

func TestRaisePageFault(t *testing.T) {
	var seen ring0.TrapFrame
	calls := 0
	m, console := newMachine(t, 1, ring0.IDTOpts{}, func(k *ring0.Kernel) {
		if err := k.RegisterFunc(ring0.PageFault, func(f *ring0.TrapFrame) ring0.ResumeAction {
			calls++
			seen = *f
			f.Rip += 3
			f.Rax = 42
			return ring0.Continue
		}); err != nil {
			t.Fatalf("RegisterFunc() failed: %v", err)
		}
	})
	v := m.VCPU(0)
	v.Rip = 0xFFFFFFFF80101000
	v.Rsp = 0xFFFFFFFF80200000
	v.Regs.Rbx = 0xb
	rflags := v.Rflags

	action, err := v.Raise(ring0.PageFault, 0x6)
	if err != nil || action != ring0.Continue {
		t.Fatalf("Raise() = %v, %v, want %v", action, err, ring0.Continue)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if seen.TrapNo != uint64(ring0.PageFault) || seen.ErrorCode != 0x6 {
		t.Errorf("frame trap %d error %#x, want 14 0x6", seen.TrapNo, seen.ErrorCode)
	}
	if seen.Rip != 0xFFFFFFFF80101000 || seen.Rsp != 0xFFFFFFFF80200000 || seen.Cs != uint64(ring0.Kcode) || seen.Ss != uint64(ring0.Kdata) {
		t.Errorf("interrupt frame %x", seen.InterruptReturn())
	}
	if seen.Rflags != rflags {
		t.Errorf("frame RFLAGS %#x, want %#x", seen.Rflags, rflags)
	}
	if seen.Rbx != 0xb || seen.Ds != uint64(ring0.Kdata) {
		t.Errorf("saved registers rbx %#x ds %#x", seen.Rbx, seen.Ds)
	}
	if v.Rip != 0xFFFFFFFF80101003 || v.Regs.Rax != 42 {
		t.Errorf("after return: rip %#x rax %d", v.Rip, v.Regs.Rax)
	}
	if v.Rflags != rflags {
		t.Errorf("after return: RFLAGS %#x, want %#x", v.Rflags, rflags)
	}
	if console.Len() != 0 {
		t.Errorf("unexpected diagnostic:\n%s", console.String())
	}
}

func TestRaiseWithoutErrorCode(t *testing.T) {
	var seen ring0.TrapFrame
	m, _ := newMachine(t, 1, ring0.IDTOpts{}, func(k *ring0.Kernel) {
		if err := k.RegisterFunc(ring0.Breakpoint, func(f *ring0.TrapFrame) ring0.ResumeAction {
			seen = *f
			return ring0.Continue
		}); err != nil {
			t.Fatalf("RegisterFunc() failed: %v", err)
		}
	})
	v := m.VCPU(0)
	v.Rip = 0x1234
	v.Rsp = 0x8000
	if _, err := v.Raise(ring0.Breakpoint, 0xdead); err != nil {
		t.Fatalf("Raise() failed: %v", err)
	}
	if seen.ErrorCode != 0 {
		t.Errorf("ErrorCode = %#x, want 0", seen.ErrorCode)
	}
	if seen.Rip != 0x1234 || seen.Rsp != 0x8000 {
		t.Errorf("rip %#x rsp %#x, want 0x1234 0x8000", seen.Rip, seen.Rsp)
	}
}

func TestRaiseDeviceInterrupt(t *testing.T) {
	var trapNo uint64
	var inHandler uint64
	var m *Machine
	m, _ = newMachine(t, 1, ring0.IDTOpts{TrapGates: []ring0.Vector{0x21}}, func(k *ring0.Kernel) {
		if err := k.RegisterFunc(ring0.GenericInterrupt, func(f *ring0.TrapFrame) ring0.ResumeAction {
			trapNo = f.TrapNo
			inHandler = m.VCPU(0).Rflags
			return ring0.Continue
		}); err != nil {
			t.Fatalf("RegisterFunc() failed: %v", err)
		}
	})
	v := m.VCPU(0)
	for _, tc := range []struct {
		vector ring0.Vector
		ifSet  bool
	}{
		{0x20, false},
		{0x21, true},
		{0x2f, false},
	} {
		if _, err := v.Raise(tc.vector, 0); err != nil {
			t.Fatalf("Raise(%#x) failed: %v", uint8(tc.vector), err)
		}
		if trapNo != uint64(ring0.GenericInterrupt) {
			t.Errorf("vector %#x: TrapNo = %#x, want %#x", uint8(tc.vector), trapNo, uint8(ring0.GenericInterrupt))
		}
		if got := inHandler&rflagsIF != 0; got != tc.ifSet {
			t.Errorf("vector %#x: IF in handler = %t, want %t", uint8(tc.vector), got, tc.ifSet)
		}
		if v.Rflags&rflagsIF == 0 {
			t.Errorf("vector %#x: IF not restored", uint8(tc.vector))
		}
	}
	if got := v.CPU().Dispatcher().Count(ring0.GenericInterrupt); got != 3 {
		t.Errorf("Count(GenericInterrupt) = %d, want 3", got)
	}
}

func TestRaiseUnhandled(t *testing.T) {
	m, console := newMachine(t, 2, ring0.IDTOpts{}, nil)
	v := m.VCPU(1)
	v.Regs.R12 = 0x1212121212121212
	action, err := v.Raise(ring0.GeneralProtectionFault, 0x10)
	if err != nil || action != ring0.Fatal {
		t.Fatalf("Raise() = %v, %v, want %v", action, err, ring0.Fatal)
	}
	if !v.Halted() {
		t.Errorf("vCPU not halted")
	}
	if m.VCPU(0).Halted() {
		t.Errorf("other vCPU halted")
	}
	out := console.String()
	for _, want := range []string{"unhandled exception general protection fault", "vector: 13", "0000000000000010", "1212121212121212"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostic missing %q:\n%s", want, out)
		}
	}
	if _, err := v.Raise(ring0.Breakpoint, 0); !errors.Is(err, ErrHalted) {
		t.Errorf("Raise() after halt = %v, want %v", err, ErrHalted)
	}
}

func TestTripleFault(t *testing.T) {
	for _, tc := range []struct {
		name   string
		vector ring0.Vector
	}{
		{"beyond IDT", 0x30},
		{"far beyond IDT", 0xff},
		{"error code via interrupt stub", ring0.ControlProtectionException},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newMachine(t, 1, ring0.IDTOpts{}, nil)
			v := m.VCPU(0)
			if _, err := v.Raise(tc.vector, 0); !errors.Is(err, ErrTripleFault) {
				t.Errorf("Raise(%#x) = %v, want %v", uint8(tc.vector), err, ErrTripleFault)
			}
			if !v.Halted() {
				t.Errorf("vCPU not halted")
			}
		})
	}
}

func TestRaiseBeforeStart(t *testing.T) {
	m, err := NewMachine(MachineOpts{CPUs: 1, Console: new(bufferConsole)})
	if err != nil {
		t.Fatalf("NewMachine() failed: %v", err)
	}
	if _, err := m.VCPU(0).Raise(ring0.PageFault, 0); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Raise() = %v, want %v", err, ErrNotStarted)
	}
}

func TestRaiseWithoutTables(t *testing.T) {
	var k ring0.Kernel
	stubs := NewStubImage(DefaultStubBase)
	if err := k.Init(ring0.KernelOpts{Stubs: stubs.Stubs()}); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	v := NewVCPU(0, stubs)
	v.MapKernel(&k)
	v.Attach(k.NewCPU(v, new(bufferConsole)))
	if _, err := v.Raise(ring0.PageFault, 0); !errors.Is(err, ErrTripleFault) {
		t.Errorf("Raise() with no IDT = %v, want %v", err, ErrTripleFault)
	}
}

func TestReloadSegmentsFault(t *testing.T) {
	var k ring0.Kernel
	stubs := NewStubImage(DefaultStubBase)
	if err := k.Init(ring0.KernelOpts{Stubs: stubs.Stubs()}); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	v := NewVCPU(0, stubs)
	v.MapKernel(&k)
	v.LoadGDT(k.GDT().Pointer())
	v.ReloadSegments(ring0.Kdata, ring0.Kdata)
	if v.Fault() == nil {
		t.Errorf("loading a data segment into CS succeeded")
	}
	v.ReloadSegments(ring0.Kcode, ring0.Kcode)
	if v.Fault() == nil {
		t.Errorf("loading a code segment into SS succeeded")
	}
	v.ReloadSegments(ring0.NewSelector(ring0.GDTEntries, 0), ring0.Kdata)
	if v.Fault() == nil {
		t.Errorf("loading a selector beyond the GDT succeeded")
	}
	v.ReloadSegments(ring0.Kcode, ring0.Kdata)
	if err := v.Fault(); err != nil {
		t.Errorf("ReloadSegments(Kcode, Kdata): %v", err)
	}
}

// newKernel returns an initialized kernel with stubs at DefaultStubBase.
func newKernel(t *testing.T) *ring0.Kernel {
	t.Helper()
	k := new(ring0.Kernel)
	if err := k.Init(ring0.KernelOpts{Stubs: NewStubImage(DefaultStubBase).Stubs()}); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return k
}

func TestReloadSegmentsUnmapped(t *testing.T) {
	k, other := newKernel(t), newKernel(t)
	v := NewVCPU(0, NewStubImage(DefaultStubBase))
	v.MapKernel(k)
	v.LoadGDT(other.GDT().Pointer())
	v.ReloadSegments(ring0.Kcode, ring0.Kdata)
	if err := v.Fault(); !errors.Is(err, ErrUnmapped) {
		t.Errorf("ReloadSegments() with an unmapped GDT: %v, want %v", err, ErrUnmapped)
	}
}

func TestRaiseUnmappedIDT(t *testing.T) {
	m, _ := newMachine(t, 1, ring0.IDTOpts{}, nil)
	v := m.VCPU(0)
	v.LoadIDT(newKernel(t).IDT().Pointer())
	_, err := v.Raise(ring0.Breakpoint, 0)
	if !errors.Is(err, ErrTripleFault) || !errors.Is(err, ErrUnmapped) {
		t.Errorf("Raise() through an unmapped IDT = %v, want %v and %v", err, ErrTripleFault, ErrUnmapped)
	}
	if !v.Halted() {
		t.Errorf("vCPU not halted")
	}
}

func TestRaiseAllCPUs(t *testing.T) {
	m, console := newMachine(t, 4, ring0.IDTOpts{}, func(k *ring0.Kernel) {
		if err := k.RegisterFunc(ring0.DivideByZero, func(f *ring0.TrapFrame) ring0.ResumeAction {
			f.Rip += 2
			return ring0.Continue
		}); err != nil {
			t.Fatalf("RegisterFunc() failed: %v", err)
		}
	})
	g, _ := errgroup.WithContext(context.Background())
	for _, v := range m.VCPUs() {
		g.Go(func() error {
			for i := 0; i < 10; i++ {
				if _, err := v.Raise(ring0.DivideByZero, 0); err != nil {
					return fmt.Errorf("vCPU %d: %w", v.ID(), err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Raise() failed: %v", err)
	}
	for _, v := range m.VCPUs() {
		if got := v.CPU().Dispatcher().Count(ring0.DivideByZero); got != 10 {
			t.Errorf("vCPU %d: Count(DivideByZero) = %d, want 10", v.ID(), got)
		}
		if v.Rip != 20 {
			t.Errorf("vCPU %d: rip %d, want 20", v.ID(), v.Rip)
		}
	}
	if console.Len() != 0 {
		t.Errorf("unexpected diagnostic:\n%s", console.String())
	}
}

func TestReturnSegments(t *testing.T) {
	for _, tc := range []struct {
		name    string
		modify  func(f *ring0.TrapFrame)
		wantDS  ring0.Selector
		wantES  ring0.Selector
		wantErr error
	}{
		{
			name:   "unchanged",
			modify: func(f *ring0.TrapFrame) {},
			wantDS: ring0.Kdata,
			wantES: ring0.Kdata,
		},
		{
			name:   "null data segments",
			modify: func(f *ring0.TrapFrame) { f.Ds, f.Es = 0, 0 },
		},
		{
			name:    "code selector in ES",
			modify:  func(f *ring0.TrapFrame) { f.Es = uint64(ring0.Kcode) },
			wantErr: ErrTripleFault,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newMachine(t, 1, ring0.IDTOpts{}, func(k *ring0.Kernel) {
				if err := k.RegisterFunc(ring0.Breakpoint, func(f *ring0.TrapFrame) ring0.ResumeAction {
					tc.modify(f)
					f.Fs = 0x2b
					return ring0.Continue
				}); err != nil {
					t.Fatalf("RegisterFunc() failed: %v", err)
				}
			})
			v := m.VCPU(0)
			v.Regs.Fs = 0x10
			_, err := v.Raise(ring0.Breakpoint, 0)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Raise() = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Raise() failed: %v", err)
			}
			if v.DS().Selector != tc.wantDS || v.Regs.Ds != uint64(tc.wantDS) {
				t.Errorf("DS = %#x (reg %#x), want %#x", uint16(v.DS().Selector), v.Regs.Ds, uint16(tc.wantDS))
			}
			if v.ES().Selector != tc.wantES || v.Regs.Es != uint64(tc.wantES) {
				t.Errorf("ES = %#x (reg %#x), want %#x", uint16(v.ES().Selector), v.Regs.Es, uint16(tc.wantES))
			}
			if v.Regs.Fs != 0x10 {
				t.Errorf("FS = %#x, want 0x10", v.Regs.Fs)
			}
		})
	}
}
