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
	"fmt"
	"strings"
)

// fakeHardware records privileged operations.
type fakeHardware struct {
	ops    []string
	gdtr   DescriptorPointer
	idtr   DescriptorPointer
	halted int
}

func (h *fakeHardware) LoadGDT(p DescriptorPointer) {
	h.gdtr = p
	h.ops = append(h.ops, "lgdt")
}

func (h *fakeHardware) LoadIDT(p DescriptorPointer) {
	h.idtr = p
	h.ops = append(h.ops, "lidt")
}

func (h *fakeHardware) ReloadSegments(code, data Selector) {
	h.ops = append(h.ops, fmt.Sprintf("segments %#x %#x", uint16(code), uint16(data)))
}

func (h *fakeHardware) Halt() {
	h.halted++
	h.ops = append(h.ops, "hlt")
}

// bufferConsole collects Console output.
type bufferConsole struct {
	strings.Builder
}

func (c *bufferConsole) Printf(format string, args ...any) {
	fmt.Fprintf(&c.Builder, format, args...)
}

const testStubBase = 0xFFFFFFFF80100000

// testStubs returns distinct, non-zero stub addresses inside testImage.
func testStubs() EntryStubs {
	var s EntryStubs
	for i := range s.Exceptions {
		s.Exceptions[i] = uintptr(testStubBase) + uintptr(i)*0x20
	}
	s.Interrupt = testStubBase + 0x400
	return s
}
