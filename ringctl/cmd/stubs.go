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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/arch/x86/x86asm"
	"gvisor.dev/ringzero/pkg/ring0"
	"gvisor.dev/ringzero/pkg/ring0/native"
)

// Stubs implements subcommands.Command for the "stubs" command.
type Stubs struct {
	output string
	intel  bool
}

// Name implements subcommands.Command.Name.
func (*Stubs) Name() string {
	return "stubs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stubs) Synopsis() string {
	return "Disassemble the native trap entry stubs."
}

// Usage implements subcommands.Command.Usage.
func (*Stubs) Usage() string {
	return `stubs [options] - Disassemble the trap entry stubs compiled into this binary (amd64 only).
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stubs) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", outputText, "Output format (text, json, yaml).")
	f.BoolVar(&s.intel, "intel", false, "Use Intel syntax instead of AT&T.")
}

// StubCode is the disassembly of one entry stub.
type StubCode struct {
	TrapNo       int      `json:"trap_no" yaml:"trap_no"`
	Name         string   `json:"name" yaml:"name"`
	Addr         string   `json:"addr" yaml:"addr"`
	Instructions []string `json:"instructions" yaml:"instructions"`
}

// disassemble decodes code, loaded at addr, up to and including the first
// jump.
func disassemble(addr uintptr, code []byte, intel bool) ([]string, error) {
	var insts []string
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			return insts, fmt.Errorf("%#x: %w", addr+uintptr(pc), err)
		}
		text := x86asm.GNUSyntax(inst, uint64(addr)+uint64(pc), nil)
		if intel {
			text = x86asm.IntelSyntax(inst, uint64(addr)+uint64(pc), nil)
		}
		insts = append(insts, text)
		pc += inst.Len
		if inst.Op == x86asm.JMP || inst.Op == x86asm.RET {
			break
		}
	}
	return insts, nil
}

func (s *Stubs) collect(stubs ring0.EntryStubs, code func(uintptr) ([]byte, error)) ([]StubCode, error) {
	var out []StubCode
	add := func(trapNo ring0.Vector, addr uintptr) error {
		b, err := code(addr)
		if err != nil {
			return err
		}
		insts, err := disassemble(addr, b, s.intel)
		if err != nil {
			return fmt.Errorf("stub for %v: %w", trapNo, err)
		}
		out = append(out, StubCode{
			TrapNo:       int(trapNo),
			Name:         trapNo.String(),
			Addr:         hex(uint64(addr)),
			Instructions: insts,
		})
		return nil
	}
	for v := 0; v < ring0.NumExceptionStubs; v++ {
		if err := add(ring0.Vector(v), stubs.Exceptions[v]); err != nil {
			return nil, err
		}
	}
	if err := add(ring0.GenericInterrupt, stubs.Interrupt); err != nil {
		return nil, err
	}
	return out, nil
}

func writeStubs(w io.Writer, stubs []StubCode) error {
	for _, s := range stubs {
		fmt.Fprintf(w, "%s <%s> trap %d:\n", s.Addr, s.Name, s.TrapNo)
		for _, inst := range s.Instructions {
			fmt.Fprintf(w, "\t%s\n", inst)
		}
	}
	return nil
}

// Execute implements subcommands.Command.Execute.
func (s *Stubs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if err := checkOutput(s.output); err != nil {
		return Errorf("%v", err)
	}
	stubs, err := native.Stubs()
	if err != nil {
		return Errorf("%v", err)
	}
	out, err := s.collect(stubs, native.Code)
	if err != nil {
		return Errorf("%v", err)
	}
	if err := writeOutput(os.Stdout, s.output, out, func(w io.Writer) error {
		return writeStubs(w, out)
	}); err != nil {
		return Errorf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}
