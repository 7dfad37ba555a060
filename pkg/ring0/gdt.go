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
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// Segment indices.
const (
	segNull  = iota // Null descriptor first.
	segKcode        // Kernel code (64-bit).
	segKdata        // Kernel data.
	segLast         // Last segment (terminal, not included).
)

// GDTEntries is the number of descriptors in the GDT.
const GDTEntries = segLast

// Selectors.
const (
	Kcode Selector = segKcode << 3
	Kdata Selector = segKdata << 3
)

// ErrSealed is returned when a table is modified after it was installed.
var ErrSealed = errors.New("descriptor table is sealed")

// GDT is the global descriptor table.
//
// It is built once and sealed by the first Install; each CPU then loads the
// same table.
type GDT struct {
	table  [GDTEntries]uint64
	sealed atomic.Bool
}

// Init populates the mandatory long mode descriptors.
func (g *GDT) Init() error {
	if g.sealed.Load() {
		return ErrSealed
	}
	g.table[segNull] = 0
	g.table[segKcode] = KernelCodeSegment.Pack()
	g.table[segKdata] = KernelDataSegment.Pack()
	return nil
}

// Set replaces descriptor index.
func (g *GDT) Set(index int, d SegmentDescriptor) error {
	if g.sealed.Load() {
		return ErrSealed
	}
	if index <= segNull || index >= GDTEntries {
		return fmt.Errorf("GDT index %d out of range [1, %d)", index, GDTEntries)
	}
	g.table[index] = d.Pack()
	return nil
}

// Descriptor returns descriptor index.
func (g *GDT) Descriptor(index int) SegmentDescriptor {
	return UnpackSegment(g.table[index])
}

// Bytes returns the table as it appears in memory.
func (g *GDT) Bytes() []byte {
	b := make([]byte, 0, GDTEntries*8)
	for _, d := range g.table {
		b = binary.LittleEndian.AppendUint64(b, d)
	}
	return b
}

// Pointer returns the GDT register value for this table.
//
//go:nosplit
func (g *GDT) Pointer() DescriptorPointer {
	return DescriptorPointer{
		Limit: uint16(sizeOf(&g.table) - 1),
		Base:  kernelAddr(&g.table),
	}
}

// Sealed returns true once the table has been installed.
func (g *GDT) Sealed() bool {
	return g.sealed.Load()
}

// Install seals the table, loads it into the CPU and reloads the segment
// registers with the kernel selectors.
//
// Interrupts must be disabled: a trap taken between the two steps would run
// with a stale segment configuration.
func (g *GDT) Install(hw Hardware) {
	g.sealed.Store(true)
	hw.LoadGDT(g.Pointer())
	hw.ReloadSegments(Kcode, Kdata)
}
