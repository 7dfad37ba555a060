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

// GateType is the type field of a 64-bit gate descriptor.
type GateType uint8

// Gate types.
const (
	// InterruptGate clears RFLAGS.IF on entry.
	InterruptGate GateType = 0xE

	// TrapGate leaves RFLAGS.IF untouched, permitting nested interrupts.
	TrapGate GateType = 0xF
)

// String implements fmt.Stringer.
func (t GateType) String() string {
	switch t {
	case InterruptGate:
		return "interrupt"
	case TrapGate:
		return "trap"
	default:
		return fmt.Sprintf("GateType(%#x)", uint8(t))
	}
}

// Field positions within the low quadword of a gate descriptor. The high
// quadword holds offset bits 32-63 followed by 32 reserved bits.
const (
	gateOffsetLoShift  = 0
	gateSelectorShift  = 16
	gateISTShift       = 32
	gateTypeShift      = 40
	gateDPLShift       = 45
	gatePShift         = 47
	gateOffsetMidShift = 48

	// MaxIST is the largest interrupt stack table index.
	MaxIST = 7

	// GateSize is the size of a packed gate descriptor.
	GateSize = 16
)

// GateDescriptor is the logical form of a 16-byte interrupt or trap gate.
type GateDescriptor struct {
	Selector Selector
	Offset   uint64

	// IST selects an interrupt stack table entry; zero means no stack
	// switch beyond the usual privilege-level one.
	IST uint8

	Type    GateType
	DPL     uint8
	Present bool
}

// Pack encodes g in the hardware layout, returning the low and high
// quadwords.
//
// Out of range fields are a programming error and panic.
func (g GateDescriptor) Pack() (lo, hi uint64) {
	if g.IST > MaxIST {
		panic(fmt.Sprintf("gate IST %d out of range", g.IST))
	}
	if g.DPL > 3 {
		panic(fmt.Sprintf("gate DPL %d out of range", g.DPL))
	}
	if g.Type != InterruptGate && g.Type != TrapGate {
		panic(fmt.Sprintf("unsupported gate type %v", g.Type))
	}
	lo = (g.Offset&0xFFFF)<<gateOffsetLoShift |
		uint64(g.Selector)<<gateSelectorShift |
		uint64(g.IST)<<gateISTShift |
		uint64(g.Type)<<gateTypeShift |
		uint64(g.DPL)<<gateDPLShift |
		bit(g.Present, gatePShift) |
		(g.Offset>>16&0xFFFF)<<gateOffsetMidShift
	hi = g.Offset >> 32
	return lo, hi
}

// Bytes returns the packed gate as it appears in memory.
func (g GateDescriptor) Bytes() [GateSize]byte {
	var b [GateSize]byte
	lo, hi := g.Pack()
	binary.LittleEndian.PutUint64(b[:8], lo)
	binary.LittleEndian.PutUint64(b[8:], hi)
	return b
}

// UnpackGate decodes a packed gate descriptor.
func UnpackGate(lo, hi uint64) GateDescriptor {
	return GateDescriptor{
		Selector: Selector(lo >> gateSelectorShift),
		Offset:   lo&0xFFFF | (lo>>gateOffsetMidShift)<<16 | (hi&0xFFFFFFFF)<<32,
		IST:      uint8(lo>>gateISTShift) & MaxIST,
		Type:     GateType(lo>>gateTypeShift) & 0xF,
		DPL:      uint8(lo>>gateDPLShift) & 3,
		Present:  lo&(1<<gatePShift) != 0,
	}
}

// UnpackGateBytes decodes a gate from its in-memory form.
func UnpackGateBytes(b []byte) GateDescriptor {
	return UnpackGate(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:GateSize]))
}

// String implements fmt.Stringer.
func (g GateDescriptor) String() string {
	if !g.Present {
		return "not present"
	}
	return fmt.Sprintf("%v gate %#x:%#016x dpl=%d ist=%d", g.Type, uint16(g.Selector), g.Offset, g.DPL, g.IST)
}
