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
	"fmt"
	"io"
)

// Hardware is the set of privileged operations the table builders and the
// dispatcher need from a processor.
//
// Implementations are per-CPU. Package native implements it with the real
// instructions; package sim with a software model.
type Hardware interface {
	// LoadGDT loads the GDT register (LGDT).
	LoadGDT(p DescriptorPointer)

	// LoadIDT loads the IDT register (LIDT).
	LoadIDT(p DescriptorPointer)

	// ReloadSegments reloads CS with code, and DS, ES and SS with data.
	// FS and GS are left alone: loading them resets their base.
	ReloadSegments(code, data Selector)

	// Halt stops the processor. It does not return on real hardware.
	Halt()
}

// Console is the diagnostic output used by the fatal trap path.
type Console interface {
	Printf(format string, args ...any)
}

// WriterConsole adapts an io.Writer to a Console.
type WriterConsole struct {
	io.Writer
}

// Printf implements Console.Printf.
func (w WriterConsole) Printf(format string, args ...any) {
	fmt.Fprintf(w.Writer, format, args...)
}
