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
	"testing"

	"golang.org/x/arch/x86/x86asm"
	"gvisor.dev/ringzero/pkg/ring0"
)

func TestStubsDistinct(t *testing.T) {
	stubs, err := Stubs()
	if err != nil {
		t.Fatalf("Stubs() failed: %v", err)
	}
	seen := make(map[uintptr]int)
	for v := 0; v < ring0.NumExceptionStubs; v++ {
		addr := stubs.For(ring0.Vector(v))
		if addr == 0 {
			t.Errorf("vector %d: no stub", v)
		}
		if prev, ok := seen[addr]; ok {
			t.Errorf("vector %d shares stub %#x with vector %d", v, addr, prev)
		}
		seen[addr] = v
	}
	if _, ok := seen[stubs.Interrupt]; ok || stubs.Interrupt == 0 {
		t.Errorf("interrupt stub %#x is not a distinct entry", stubs.Interrupt)
	}
	for v := ring0.NumExceptionStubs; v < ring0.IDTEntries; v++ {
		if got := stubs.For(ring0.Vector(v)); got != stubs.Interrupt {
			t.Errorf("vector %d uses %#x, want interrupt stub %#x", v, got, stubs.Interrupt)
		}
	}
}

// decodeStub returns the values pushed by the stub at addr and the target of
// its final jump.
func decodeStub(t *testing.T, addr uintptr) ([]int64, uintptr) {
	t.Helper()
	code, err := Code(addr)
	if err != nil {
		t.Fatalf("Code(%#x) failed: %v", addr, err)
	}
	var pushed []int64
	pc := 0
	for pc < len(code) {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			t.Fatalf("stub %#x+%d: %v", addr, pc, err)
		}
		switch inst.Op {
		case x86asm.PUSH:
			imm, ok := inst.Args[0].(x86asm.Imm)
			if !ok {
				t.Fatalf("stub %#x+%d: %v does not push an immediate", addr, pc, inst)
			}
			pushed = append(pushed, int64(imm))
		case x86asm.JMP:
			rel, ok := inst.Args[0].(x86asm.Rel)
			if !ok {
				t.Fatalf("stub %#x+%d: %v is not a relative jump", addr, pc, inst)
			}
			return pushed, addr + uintptr(pc+inst.Len) + uintptr(int64(rel))
		default:
			t.Fatalf("stub %#x+%d: unexpected instruction %v", addr, pc, inst)
		}
		pc += inst.Len
	}
	t.Fatalf("stub %#x: no jump in %d bytes", addr, len(code))
	return nil, 0
}

func TestStubCode(t *testing.T) {
	stubs, err := Stubs()
	if err != nil {
		t.Fatalf("Stubs() failed: %v", err)
	}
	var common uintptr
	check := func(addr uintptr, trapNo int64, hasErrorCode bool) {
		pushed, target := decodeStub(t, addr)
		want := []int64{0, trapNo}
		if hasErrorCode {
			want = []int64{trapNo}
		}
		if len(pushed) != len(want) {
			t.Errorf("stub for %d pushes %v, want %v", trapNo, pushed, want)
		} else {
			for i := range want {
				if pushed[i] != want[i] {
					t.Errorf("stub for %d pushes %v, want %v", trapNo, pushed, want)
					break
				}
			}
		}
		if common == 0 {
			common = target
		} else if target != common {
			t.Errorf("stub for %d jumps to %#x, others to %#x", trapNo, target, common)
		}
	}
	for v := 0; v < ring0.NumExceptionStubs; v++ {
		check(stubs.Exceptions[v], int64(v), ring0.HasErrorCode(ring0.Vector(v)))
	}
	check(stubs.Interrupt, int64(ring0.GenericInterrupt), false)
}

func TestTrapCommonRestoresDataSegments(t *testing.T) {
	stubs, err := Stubs()
	if err != nil {
		t.Fatalf("Stubs() failed: %v", err)
	}
	_, common := decodeStub(t, stubs.Interrupt)
	code := codeAt(common, 1024)

	var called, iret bool
	// Registers written after the dispatch call.
	restored := make(map[x86asm.Reg]bool)
	for pc := 0; pc < len(code) && !iret; {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			t.Fatalf("trapCommon+%d: %v", pc, err)
		}
		switch inst.Op {
		case x86asm.CALL:
			called = true
		case x86asm.MOV:
			if reg, ok := inst.Args[0].(x86asm.Reg); ok && called {
				restored[reg] = true
			}
		case x86asm.IRETQ:
			iret = true
		}
		pc += inst.Len
	}
	if !iret {
		t.Fatalf("no IRETQ in trapCommon")
	}
	for _, reg := range []x86asm.Reg{x86asm.DS, x86asm.ES} {
		if !restored[reg] {
			t.Errorf("%v is not reloaded after the dispatch call", reg)
		}
	}
	for _, reg := range []x86asm.Reg{x86asm.FS, x86asm.GS} {
		if restored[reg] {
			t.Errorf("%v is reloaded on return", reg)
		}
	}
}

func TestFrameOffsets(t *testing.T) {
	// These are the offsets used by trapCommon in entry_amd64.s.
	for _, tc := range []struct {
		name string
		got  int
		want int
	}{
		{"rax", ring0.FrameRax, 0x00},
		{"rbx", ring0.FrameRbx, 0x08},
		{"rcx", ring0.FrameRcx, 0x10},
		{"rdx", ring0.FrameRdx, 0x18},
		{"rdi", ring0.FrameRdi, 0x20},
		{"rsi", ring0.FrameRsi, 0x28},
		{"r8", ring0.FrameR8, 0x30},
		{"r15", ring0.FrameR15, 0x68},
		{"rbp", ring0.FrameRbp, 0x70},
		{"ds", ring0.FrameDs, 0x78},
		{"es", ring0.FrameEs, 0x80},
		{"gs", ring0.FrameGs, 0x90},
		{"trap_no", ring0.FrameTrapNo, 0x98},
		{"rip", ring0.FrameRip, 0xa8},
		{"generic interrupt", int(ring0.GenericInterrupt), 0x30},
	} {
		if tc.got != tc.want {
			t.Errorf("%s: ring0 uses %#x, entry_amd64.s uses %#x", tc.name, tc.got, tc.want)
		}
	}
}
