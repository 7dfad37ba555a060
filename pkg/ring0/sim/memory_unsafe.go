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
	"errors"
	"fmt"
	"unsafe"
)

// ErrUnmapped is returned when a vCPU reads linear memory that is not
// mapped. Hardware would raise #GP or #PF.
var ErrUnmapped = errors.New("address not mapped")

// mapping is one range of linear memory backed by a Go object.
type mapping struct {
	base uint64
	size uint64
	ptr  unsafe.Pointer
}

// memoryMap is the linear memory visible to a vCPU. Only the descriptor
// tables are mapped.
type memoryMap struct {
	mappings []mapping
}

// add maps size bytes at ptr at linear address base.
func (m *memoryMap) add(base uint64, ptr unsafe.Pointer, size uint64) {
	m.mappings = append(m.mappings, mapping{base: base, size: size, ptr: ptr})
}

// readUint64 reads the word at linear address addr.
func (m *memoryMap) readUint64(addr uint64) (uint64, error) {
	for _, r := range m.mappings {
		if r.size < 8 || addr < r.base || addr-r.base > r.size-8 {
			continue
		}
		return *(*uint64)(unsafe.Add(r.ptr, addr-r.base)), nil
	}
	return 0, fmt.Errorf("reading %#x: %w", addr, ErrUnmapped)
}
