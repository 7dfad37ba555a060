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

// TrapFrame is the register state captured when a trap is taken.
//
// The layout is shared with the entry stubs, which build the frame on the
// stack: the general purpose and segment registers and trap number are
// pushed by the stub, the rest by the CPU. Field order must match the
// Frame* offsets below; this is checked at compile time.
type TrapFrame struct {
	Rax uint64
	Rbx uint64
	Rcx uint64
	Rdx uint64
	Rdi uint64
	Rsi uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
	Rbp uint64
	Ds  uint64
	Es  uint64
	Fs  uint64
	Gs  uint64

	// TrapNo is the vector pushed by the entry stub.
	TrapNo uint64

	// ErrorCode is the hardware error code for vectors that have one,
	// and zero otherwise.
	ErrorCode uint64

	// The interrupt return frame. In 64-bit mode the CPU always pushes
	// Rsp and Ss, not only on a privilege level change.
	Rip    uint64
	Cs     uint64
	Rflags uint64
	Rsp    uint64
	Ss     uint64
}

// Byte offsets of TrapFrame fields.
const (
	FrameRax       = 0x00
	FrameRbx       = 0x08
	FrameRcx       = 0x10
	FrameRdx       = 0x18
	FrameRdi       = 0x20
	FrameRsi       = 0x28
	FrameR8        = 0x30
	FrameR9        = 0x38
	FrameR10       = 0x40
	FrameR11       = 0x48
	FrameR12       = 0x50
	FrameR13       = 0x58
	FrameR14       = 0x60
	FrameR15       = 0x68
	FrameRbp       = 0x70
	FrameDs        = 0x78
	FrameEs        = 0x80
	FrameFs        = 0x88
	FrameGs        = 0x90
	FrameTrapNo    = 0x98
	FrameErrorCode = 0xa0
	FrameRip       = 0xa8
	FrameCs        = 0xb0
	FrameRflags    = 0xb8
	FrameRsp       = 0xc0
	FrameSs        = 0xc8

	// FrameSize is the size of a TrapFrame.
	FrameSize = 0xd0

	// FrameHardwareWords is the number of words pushed by the CPU,
	// excluding the error code.
	FrameHardwareWords = (FrameSize - FrameRip) / 8
)

// FrameField names a TrapFrame field and its offset.
type FrameField struct {
	Name   string
	Offset int
}

// FrameLayout lists the frame fields in canonical order.
var FrameLayout = [...]FrameField{
	{"rax", FrameRax},
	{"rbx", FrameRbx},
	{"rcx", FrameRcx},
	{"rdx", FrameRdx},
	{"rdi", FrameRdi},
	{"rsi", FrameRsi},
	{"r8", FrameR8},
	{"r9", FrameR9},
	{"r10", FrameR10},
	{"r11", FrameR11},
	{"r12", FrameR12},
	{"r13", FrameR13},
	{"r14", FrameR14},
	{"r15", FrameR15},
	{"rbp", FrameRbp},
	{"ds", FrameDs},
	{"es", FrameEs},
	{"fs", FrameFs},
	{"gs", FrameGs},
	{"trap_no", FrameTrapNo},
	{"error_code", FrameErrorCode},
	{"rip", FrameRip},
	{"cs", FrameCs},
	{"rflags", FrameRflags},
	{"rsp", FrameRsp},
	{"ss", FrameSs},
}

// words returns pointers to each field, in FrameLayout order.
func (f *TrapFrame) words() [FrameSize / 8]*uint64 {
	return [...]*uint64{
		&f.Rax, &f.Rbx, &f.Rcx, &f.Rdx, &f.Rdi, &f.Rsi,
		&f.R8, &f.R9, &f.R10, &f.R11, &f.R12, &f.R13, &f.R14, &f.R15,
		&f.Rbp, &f.Ds, &f.Es, &f.Fs, &f.Gs,
		&f.TrapNo, &f.ErrorCode,
		&f.Rip, &f.Cs, &f.Rflags, &f.Rsp, &f.Ss,
	}
}

// SizeBytes returns the size of the frame in memory.
func (*TrapFrame) SizeBytes() int {
	return FrameSize
}

// MarshalBytes serializes f into dst by field offset.
func (f *TrapFrame) MarshalBytes(dst []byte) []byte {
	for i, w := range f.words() {
		binary.LittleEndian.PutUint64(dst[FrameLayout[i].Offset:], *w)
	}
	return dst[FrameSize:]
}

// UnmarshalBytes deserializes f from src by field offset.
func (f *TrapFrame) UnmarshalBytes(src []byte) []byte {
	for i, w := range f.words() {
		*w = binary.LittleEndian.Uint64(src[FrameLayout[i].Offset:])
	}
	return src[FrameSize:]
}

// Vector returns the trap number as a vector. The boolean is false if the
// trap number is outside the vector space.
//
//go:nosplit
func (f *TrapFrame) Vector() (Vector, bool) {
	if f.TrapNo >= NumVectors {
		return 0, false
	}
	return Vector(f.TrapNo), true
}

// Normalize clears the error code of frames whose vector has no hardware
// error code, so that whatever the stub left there is never observed.
//
//go:nosplit
func (f *TrapFrame) Normalize() {
	if v, ok := f.Vector(); !ok || !HasErrorCode(v) {
		f.ErrorCode = 0
	}
}

// FromUser returns true if the trap was taken while running at CPL 3.
func (f *TrapFrame) FromUser() bool {
	return f.Cs&3 == 3
}

// StubRegs are the registers saved by an entry stub.
type StubRegs struct {
	Rax uint64
	Rbx uint64
	Rcx uint64
	Rdx uint64
	Rdi uint64
	Rsi uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
	Rbp uint64
	Ds  uint64
	Es  uint64
	Fs  uint64
	Gs  uint64
}

// BuildFrame assembles the frame for vector from the registers saved by the
// entry stub and the words pushed by the CPU, lowest address first.
//
// Whether pushed begins with an error code is decided by HasErrorCode, not
// by the length of pushed: words beyond the interrupt return frame are
// never read.
func BuildFrame(vector Vector, regs *StubRegs, pushed []uint64) (*TrapFrame, error) {
	want := FrameHardwareWords
	hasErr := HasErrorCode(vector)
	if hasErr {
		want++
	}
	if len(pushed) < want {
		return nil, fmt.Errorf("vector %d: need %d hardware words, got %d", uint8(vector), want, len(pushed))
	}
	f := &TrapFrame{
		Rax:    regs.Rax,
		Rbx:    regs.Rbx,
		Rcx:    regs.Rcx,
		Rdx:    regs.Rdx,
		Rdi:    regs.Rdi,
		Rsi:    regs.Rsi,
		R8:     regs.R8,
		R9:     regs.R9,
		R10:    regs.R10,
		R11:    regs.R11,
		R12:    regs.R12,
		R13:    regs.R13,
		R14:    regs.R14,
		R15:    regs.R15,
		Rbp:    regs.Rbp,
		Ds:     regs.Ds,
		Es:     regs.Es,
		Fs:     regs.Fs,
		Gs:     regs.Gs,
		TrapNo: uint64(vector),
	}
	if hasErr {
		f.ErrorCode = pushed[0]
		pushed = pushed[1:]
	}
	f.Rip = pushed[0]
	f.Cs = pushed[1]
	f.Rflags = pushed[2]
	f.Rsp = pushed[3]
	f.Ss = pushed[4]
	return f, nil
}

// StubRegs returns the registers an entry stub restores from f.
func (f *TrapFrame) StubRegs() StubRegs {
	return StubRegs{
		Rax: f.Rax,
		Rbx: f.Rbx,
		Rcx: f.Rcx,
		Rdx: f.Rdx,
		Rdi: f.Rdi,
		Rsi: f.Rsi,
		R8:  f.R8,
		R9:  f.R9,
		R10: f.R10,
		R11: f.R11,
		R12: f.R12,
		R13: f.R13,
		R14: f.R14,
		R15: f.R15,
		Rbp: f.Rbp,
		Ds:  f.Ds,
		Es:  f.Es,
		Fs:  f.Fs,
		Gs:  f.Gs,
	}
}

// InterruptReturn returns the words consumed by IRETQ, lowest address
// first.
func (f *TrapFrame) InterruptReturn() [FrameHardwareWords]uint64 {
	return [FrameHardwareWords]uint64{f.Rip, f.Cs, f.Rflags, f.Rsp, f.Ss}
}
