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
	"unsafe"
)

// kernelAddr returns the address of obj as seen by the CPU.
//
// The kernel runs with its image mapped at the link address, so this is the
// Go pointer value.
//
//go:nosplit
func kernelAddr[T any](obj *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(obj)))
}

// sizeOf returns the size of the object pointed to by obj.
func sizeOf[T any](obj *T) uint64 {
	return uint64(unsafe.Sizeof(*obj))
}

// Memory returns a pointer to the table as the CPU reads it, and its size
// in bytes.
func (g *GDT) Memory() (unsafe.Pointer, uint64) {
	return unsafe.Pointer(&g.table), sizeOf(&g.table)
}

// Memory returns a pointer to the table as the CPU reads it, and its size
// in bytes.
func (t *IDT) Memory() (unsafe.Pointer, uint64) {
	return unsafe.Pointer(&t.table), sizeOf(&t.table)
}
