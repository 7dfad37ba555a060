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
	"fmt"
)

// SegmentType is the 4-bit type field of a code or data segment descriptor.
type SegmentType uint8

// SegmentType bits.
//
// The meaning of bits 1 and 2 depends on SegmentTypeCode: for code segments
// they are readable and conforming, for data segments writable and
// expand-down.
const (
	SegmentTypeAccessed   SegmentType = 1 << 0
	SegmentTypeReadWrite  SegmentType = 1 << 1
	SegmentTypeConforming SegmentType = 1 << 2
	SegmentTypeExpandDown SegmentType = 1 << 2
	SegmentTypeCode       SegmentType = 1 << 3
)

// Field positions within a packed segment descriptor.
const (
	segLimitLoShift = 0
	segBaseLoShift  = 16
	segTypeShift    = 40
	segSShift       = 44
	segDPLShift     = 45
	segPShift       = 47
	segLimitHiShift = 48
	segAVLShift     = 52
	segLShift       = 53
	segDBShift      = 54
	segGShift       = 55
	segBaseHiShift  = 56

	// MaxSegmentLimit is the largest encodable (20-bit) limit.
	MaxSegmentLimit = 0xFFFFF
)

// SegmentDescriptor is the logical form of an 8-byte segment descriptor.
//
// Limit is the raw 20-bit field; when Granularity is set the CPU scales it
// by 4KB (see EffectiveLimit).
type SegmentDescriptor struct {
	Base  uint32
	Limit uint32
	Type  SegmentType

	// CodeData is the descriptor type (S) bit: false for system
	// descriptors, true for code and data segments.
	CodeData bool

	DPL       uint8
	Present   bool
	Available bool

	// Long is the code size (L) bit, selecting 64-bit code.
	Long bool

	// DefaultSize32 is the operand size (D/B) bit. It must be clear when
	// Long is set.
	DefaultSize32 bool

	// Granularity selects 4KB limit scaling.
	Granularity bool
}

func bit(b bool, shift uint) uint64 {
	if b {
		return 1 << shift
	}
	return 0
}

// Pack encodes d in the hardware layout.
//
// Out of range fields are a programming error and panic.
func (d SegmentDescriptor) Pack() uint64 {
	if d.Limit > MaxSegmentLimit {
		panic(fmt.Sprintf("segment limit %#x exceeds 20 bits", d.Limit))
	}
	if d.DPL > 3 {
		panic(fmt.Sprintf("segment DPL %d out of range", d.DPL))
	}
	if d.Type > 0xF {
		panic(fmt.Sprintf("segment type %#x exceeds 4 bits", d.Type))
	}
	if d.Long && d.DefaultSize32 {
		panic("segment has both L and D/B set")
	}
	return uint64(d.Limit&0xFFFF)<<segLimitLoShift |
		uint64(d.Base&0xFFFFFF)<<segBaseLoShift |
		uint64(d.Type)<<segTypeShift |
		bit(d.CodeData, segSShift) |
		uint64(d.DPL)<<segDPLShift |
		bit(d.Present, segPShift) |
		uint64(d.Limit>>16)<<segLimitHiShift |
		bit(d.Available, segAVLShift) |
		bit(d.Long, segLShift) |
		bit(d.DefaultSize32, segDBShift) |
		bit(d.Granularity, segGShift) |
		uint64(d.Base>>24)<<segBaseHiShift
}

// Bytes returns the packed descriptor as it appears in memory.
func (d SegmentDescriptor) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], d.Pack())
	return b
}

// UnpackSegment decodes a packed segment descriptor.
func UnpackSegment(v uint64) SegmentDescriptor {
	return SegmentDescriptor{
		Base:          uint32(v>>segBaseLoShift)&0xFFFFFF | uint32(v>>segBaseHiShift)<<24,
		Limit:         uint32(v>>segLimitLoShift)&0xFFFF | (uint32(v>>segLimitHiShift)&0xF)<<16,
		Type:          SegmentType(v>>segTypeShift) & 0xF,
		CodeData:      v&(1<<segSShift) != 0,
		DPL:           uint8(v>>segDPLShift) & 3,
		Present:       v&(1<<segPShift) != 0,
		Available:     v&(1<<segAVLShift) != 0,
		Long:          v&(1<<segLShift) != 0,
		DefaultSize32: v&(1<<segDBShift) != 0,
		Granularity:   v&(1<<segGShift) != 0,
	}
}

// UnpackSegmentBytes decodes a descriptor from its in-memory form.
func UnpackSegmentBytes(b []byte) SegmentDescriptor {
	return UnpackSegment(binary.LittleEndian.Uint64(b))
}

// EffectiveLimit returns the limit in bytes, taking granularity into
// account.
func (d SegmentDescriptor) EffectiveLimit() uint32 {
	if d.Granularity {
		return d.Limit<<12 | 0xFFF
	}
	return d.Limit
}

// IsCode returns true for executable segments.
func (d SegmentDescriptor) IsCode() bool {
	return d.CodeData && d.Type&SegmentTypeCode != 0
}

// String implements fmt.Stringer.
func (d SegmentDescriptor) String() string {
	if d == (SegmentDescriptor{}) {
		return "null"
	}
	kind := "data"
	if !d.CodeData {
		kind = "system"
	} else if d.IsCode() {
		kind = "code"
	}
	mode := "16"
	switch {
	case d.Long:
		mode = "64"
	case d.DefaultSize32:
		mode = "32"
	}
	return fmt.Sprintf("%s%s base=%#x limit=%#x type=%#x dpl=%d present=%t", kind, mode, d.Base, d.EffectiveLimit(), uint8(d.Type), d.DPL, d.Present)
}

// Standard segments.
var (
	// KernelCodeSegment is the 64-bit, non-conforming, read/execute ring 0
	// code segment.
	KernelCodeSegment = SegmentDescriptor{
		Limit:       MaxSegmentLimit,
		Type:        SegmentTypeCode | SegmentTypeReadWrite,
		CodeData:    true,
		Present:     true,
		Long:        true,
		Granularity: true,
	}

	// KernelDataSegment is the expand-up, read/write ring 0 data segment.
	KernelDataSegment = SegmentDescriptor{
		Limit:         MaxSegmentLimit,
		Type:          SegmentTypeReadWrite,
		CodeData:      true,
		Present:       true,
		DefaultSize32: true,
		Granularity:   true,
	}
)

// Selector is a segment selector.
type Selector uint16

// NewSelector returns the GDT selector for index with the given requested
// privilege level.
func NewSelector(index int, rpl uint8) Selector {
	return Selector(index<<3) | Selector(rpl&3)
}

// Index returns the descriptor table index.
func (s Selector) Index() int {
	return int(s >> 3)
}

// RPL returns the requested privilege level.
func (s Selector) RPL() uint8 {
	return uint8(s & 3)
}

// LDT returns true if the selector refers to the local descriptor table.
func (s Selector) LDT() bool {
	return s&4 != 0
}

// DescriptorPointer is the pseudo-descriptor operand of LGDT and LIDT.
type DescriptorPointer struct {
	Limit uint16
	Base  uint64
}

// DescriptorPointerSize is the in-memory size of a DescriptorPointer.
const DescriptorPointerSize = 10

// Bytes returns the packed {limit:16, base:64} operand.
func (p DescriptorPointer) Bytes() [DescriptorPointerSize]byte {
	var b [DescriptorPointerSize]byte
	binary.LittleEndian.PutUint16(b[:2], p.Limit)
	binary.LittleEndian.PutUint64(b[2:], p.Base)
	return b
}

// Entries returns the number of descriptors of the given size covered by
// the pointer's limit.
func (p DescriptorPointer) Entries(size int) int {
	return (int(p.Limit) + 1) / size
}
