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
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/ringzero/pkg/layout"
	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/pkg/ring0"
)

// DefaultStubBase is where the synthetic stubs are placed when
// MachineOpts.StubBase is zero: 1MB into the kernel image.
const DefaultStubBase = uintptr(layout.KernelVMA + 0x100000)

// MachineOpts are the options for NewMachine.
type MachineOpts struct {
	// CPUs is the number of vCPUs.
	CPUs int

	// StubBase is the address of the first synthetic stub.
	StubBase uintptr

	// IDT holds the gate overrides. If IDT.Image is empty, it is set to
	// the stub region.
	IDT ring0.IDTOpts

	// Console receives fatal trap diagnostics. The default is stderr.
	Console ring0.Console
}

// Machine is a set of vCPUs sharing one kernel.
type Machine struct {
	kernel  ring0.Kernel
	stubs   *StubImage
	vcpus   []*VCPU
	console ring0.Console
}

// NewMachine builds the kernel tables for a new machine. Handlers may be
// registered on Kernel until Start.
func NewMachine(opts MachineOpts) (*Machine, error) {
	if opts.CPUs <= 0 {
		return nil, fmt.Errorf("invalid number of vCPUs: %d", opts.CPUs)
	}
	if opts.StubBase == 0 {
		opts.StubBase = DefaultStubBase
	}
	if opts.Console == nil {
		opts.Console = ring0.WriterConsole{Writer: os.Stderr}
	}
	m := &Machine{
		stubs:   NewStubImage(opts.StubBase),
		console: opts.Console,
	}
	idtOpts := opts.IDT
	if idtOpts.Image.Empty() {
		idtOpts.Image = m.stubs.Region()
	}
	if err := m.kernel.Init(ring0.KernelOpts{Stubs: m.stubs.Stubs(), IDT: idtOpts}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	for i := 0; i < opts.CPUs; i++ {
		v := NewVCPU(i, m.stubs)
		v.MapKernel(&m.kernel)
		m.vcpus = append(m.vcpus, v)
	}
	return m, nil
}

// Kernel returns the shared kernel.
func (m *Machine) Kernel() *ring0.Kernel {
	return &m.kernel
}

// Stubs returns the synthetic stub image.
func (m *Machine) Stubs() *StubImage {
	return m.stubs
}

// VCPUs returns the vCPUs.
func (m *Machine) VCPUs() []*VCPU {
	return m.vcpus
}

// VCPU returns vCPU id.
func (m *Machine) VCPU(id int) *VCPU {
	return m.vcpus[id]
}

// Start brings up every vCPU concurrently: each attaches a kernel CPU and
// installs the shared tables. The first failure cancels the rest.
func (m *Machine) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, v := range m.vcpus {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return v.boot(&m.kernel, m.console)
		})
	}
	return g.Wait()
}

// boot attaches a kernel CPU to v and installs the tables.
func (v *VCPU) boot(k *ring0.Kernel, console ring0.Console) error {
	c := k.NewCPU(v, console)
	v.Attach(c)
	if err := c.Install(); err != nil {
		return fmt.Errorf("vCPU %d: %w", v.id, err)
	}
	if err := v.Fault(); err != nil {
		return fmt.Errorf("vCPU %d: %w", v.id, err)
	}
	log.Debugf("vCPU %d: GDTR %#x/%#x IDTR %#x/%#x", v.id, v.gdtr.Base, v.gdtr.Limit, v.idtr.Base, v.idtr.Limit)
	return nil
}
