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

//go:build amd64
// +build amd64

package native

import (
	"gvisor.dev/ringzero/pkg/ring0"
)

// lgdt loads the GDT register from the 10-byte pseudo-descriptor at p.
func lgdt(p *byte)

// lidt loads the IDT register from the 10-byte pseudo-descriptor at p.
func lidt(p *byte)

// reloadSegments loads DS, ES and SS with data, then reloads CS with code
// via a far return.
func reloadSegments(code, data uint16)

// halt disables interrupts and halts forever.
func halt()

// Hardware implements ring0.Hardware with the real instructions.
//
// It must only be used at CPL 0.
type Hardware struct{}

var _ ring0.Hardware = Hardware{}

// LoadGDT implements ring0.Hardware.LoadGDT.
//
//go:nosplit
func (Hardware) LoadGDT(p ring0.DescriptorPointer) {
	b := p.Bytes()
	lgdt(&b[0])
}

// LoadIDT implements ring0.Hardware.LoadIDT.
//
//go:nosplit
func (Hardware) LoadIDT(p ring0.DescriptorPointer) {
	b := p.Bytes()
	lidt(&b[0])
}

// ReloadSegments implements ring0.Hardware.ReloadSegments.
//
//go:nosplit
func (Hardware) ReloadSegments(code, data ring0.Selector) {
	reloadSegments(uint16(code), uint16(data))
}

// Halt implements ring0.Hardware.Halt.
//
//go:nosplit
func (Hardware) Halt() {
	halt()
}
