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
	"fmt"

	"gvisor.dev/ringzero/pkg/layout"
	"gvisor.dev/ringzero/pkg/ring0"
)

// stubStride is the distance between synthetic stubs.
const stubStride = 0x10

// StubImage is a synthetic set of entry stubs.
//
// The addresses are never executed: the VCPU recognizes them and applies
// the stub contract itself.
type StubImage struct {
	base  uintptr
	stubs ring0.EntryStubs

	// trapNo maps each stub to the literal it pushes.
	trapNo map[uintptr]ring0.Vector
}

// NewStubImage lays out the stubs starting at base.
func NewStubImage(base uintptr) *StubImage {
	s := &StubImage{
		base:   base,
		trapNo: make(map[uintptr]ring0.Vector),
	}
	for i := range s.stubs.Exceptions {
		addr := base + uintptr(i)*stubStride
		s.stubs.Exceptions[i] = addr
		s.trapNo[addr] = ring0.Vector(i)
	}
	s.stubs.Interrupt = base + uintptr(ring0.NumExceptionStubs)*stubStride
	s.trapNo[s.stubs.Interrupt] = ring0.GenericInterrupt
	return s
}

// Stubs returns the stub addresses.
func (s *StubImage) Stubs() ring0.EntryStubs {
	return s.stubs
}

// Region returns the address range covered by the stubs.
func (s *StubImage) Region() layout.Region {
	return layout.Region{
		Addr: uint64(s.base),
		Size: uint64(ring0.NumExceptionStubs+1) * stubStride,
	}
}

// TrapNumber returns the trap number pushed by the stub at addr.
func (s *StubImage) TrapNumber(addr uint64) (ring0.Vector, error) {
	v, ok := s.trapNo[uintptr(addr)]
	if !ok {
		return 0, fmt.Errorf("no entry stub at %#x", addr)
	}
	return v, nil
}
