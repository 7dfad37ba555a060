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
	"unsafe"
)

// Code returns the first StubCodeSize bytes of machine code at the stub
// address addr, as returned by Stubs.
func Code(addr uintptr) ([]byte, error) {
	return codeAt(addr, StubCodeSize), nil
}

// codeAt returns n bytes of machine code at addr.
func codeAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
