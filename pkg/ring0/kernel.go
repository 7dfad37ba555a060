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
	"errors"
	"fmt"
	"sync"

	"gvisor.dev/ringzero/pkg/hostarch"
	"gvisor.dev/ringzero/pkg/log"
)

var (
	// ErrInitialized is returned by a second call to Kernel.Init.
	ErrInitialized = errors.New("kernel already initialized")

	// ErrNotInitialized is returned when a CPU is used before Kernel.Init.
	ErrNotInitialized = errors.New("kernel not initialized")

	// ErrGDTNotInstalled is returned when the IDT is installed on a CPU
	// that has not loaded the GDT; the gates would reference a code
	// selector the CPU does not have.
	ErrGDTNotInstalled = errors.New("GDT not installed on this CPU")
)

// KernelOpts are the options for Kernel.Init.
type KernelOpts struct {
	// Stubs are the trap entry points.
	Stubs EntryStubs

	// IDT holds the per-vector gate overrides.
	IDT IDTOpts
}

// Kernel is the global kernel state: the descriptor tables and the handler
// table, shared by every CPU.
//
// The zero value is ready for Init.
type Kernel struct {
	mu          sync.Mutex
	initialized bool

	gdt      GDT
	idt      IDT
	handlers HandlerTable
}

// Init builds the descriptor tables. It may be called once.
func (k *Kernel) Init(opts KernelOpts) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.initialized {
		return ErrInitialized
	}
	if err := k.gdt.Init(); err != nil {
		return fmt.Errorf("building GDT: %w", err)
	}
	if err := k.idt.Init(&opts.Stubs, &opts.IDT); err != nil {
		return fmt.Errorf("building IDT: %w", err)
	}
	k.initialized = true
	log.Debugf("Descriptor tables built: GDT at %#x, IDT at %#x", k.gdt.Pointer().Base, k.idt.Pointer().Base)
	return nil
}

// Initialized returns true after a successful Init.
func (k *Kernel) Initialized() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.initialized
}

// Register sets the handler for v. Handlers must be registered before the
// first CPU installs its tables.
func (k *Kernel) Register(v Vector, h Handler) error {
	return k.handlers.Register(v, h)
}

// RegisterFunc is Register for a function.
func (k *Kernel) RegisterFunc(v Vector, fn func(*TrapFrame) ResumeAction) error {
	return k.Register(v, HandlerFunc(fn))
}

// GDT returns the global descriptor table.
func (k *Kernel) GDT() *GDT {
	return &k.gdt
}

// IDT returns the interrupt descriptor table.
func (k *Kernel) IDT() *IDT {
	return &k.idt
}

// Handlers returns the handler table.
func (k *Kernel) Handlers() *HandlerTable {
	return &k.handlers
}

// EntryRegions returns the set of kernel table regions (must be mapped),
// as page-aligned start to end.
func (k *Kernel) EntryRegions() map[uintptr]uintptr {
	regions := make(map[uintptr]uintptr)
	for _, p := range []DescriptorPointer{k.gdt.Pointer(), k.idt.Pointer()} {
		addr := hostarch.Addr(p.Base)
		end := hostarch.Addr(p.Base + uint64(p.Limit) + 1).MustRoundUp()
		start := addr.RoundDown()
		if cur, ok := regions[uintptr(start)]; !ok || cur < uintptr(end) {
			regions[uintptr(start)] = uintptr(end)
		}
	}
	return regions
}

// CPU is the per-processor state.
type CPU struct {
	kernel     *Kernel
	hw         Hardware
	dispatcher *Dispatcher

	gdtInstalled bool
	idtInstalled bool
}

// NewCPU returns a CPU using hw for privileged operations and console for
// the fatal trap diagnostic.
func (k *Kernel) NewCPU(hw Hardware, console Console) *CPU {
	return &CPU{
		kernel:     k,
		hw:         hw,
		dispatcher: NewDispatcher(&k.handlers, console, hw.Halt),
	}
}

// Kernel returns the kernel this CPU belongs to.
func (c *CPU) Kernel() *Kernel {
	return c.kernel
}

// Dispatcher returns the CPU's trap dispatcher.
func (c *CPU) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// InstallGDT loads the GDT and the kernel segments.
func (c *CPU) InstallGDT() error {
	if !c.kernel.Initialized() {
		return ErrNotInitialized
	}
	c.kernel.gdt.Install(c.hw)
	c.gdtInstalled = true
	return nil
}

// InstallIDT loads the IDT. The GDT must already be installed.
//
// Installing the IDT seals the handler table: from here on traps may
// arrive on this CPU.
func (c *CPU) InstallIDT() error {
	if !c.kernel.Initialized() {
		return ErrNotInitialized
	}
	if !c.gdtInstalled {
		return ErrGDTNotInstalled
	}
	c.kernel.handlers.Seal()
	c.kernel.idt.Install(c.hw)
	c.idtInstalled = true
	return nil
}

// Install loads both tables, GDT first.
func (c *CPU) Install() error {
	if err := c.InstallGDT(); err != nil {
		return err
	}
	return c.InstallIDT()
}

// Installed returns true once both tables are loaded on this CPU.
func (c *CPU) Installed() bool {
	return c.gdtInstalled && c.idtInstalled
}

// Trap dispatches the trap described by f on this CPU.
func (c *CPU) Trap(f *TrapFrame) ResumeAction {
	return c.dispatcher.Dispatch(f)
}
