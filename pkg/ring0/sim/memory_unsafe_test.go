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
	"testing"
	"unsafe"
)

func TestMemoryMap(t *testing.T) {
	words := [4]uint64{0x11, 0x22, 0x33, 0x44}
	var m memoryMap
	m.add(0x1000, unsafe.Pointer(&words), uint64(unsafe.Sizeof(words)))
	for _, tc := range []struct {
		addr uint64
		want uint64
	}{
		{0x1000, 0x11},
		{0x1008, 0x22},
		{0x1018, 0x44},
	} {
		got, err := m.readUint64(tc.addr)
		if err != nil || got != tc.want {
			t.Errorf("readUint64(%#x) = %#x, %v, want %#x", tc.addr, got, err, tc.want)
		}
	}
	for _, addr := range []uint64{0, 0xff8, 0x101c, 0x1020, ^uint64(0)} {
		if _, err := m.readUint64(addr); !errors.Is(err, ErrUnmapped) {
			t.Errorf("readUint64(%#x) = %v, want %v", addr, err, ErrUnmapped)
		}
	}
}
