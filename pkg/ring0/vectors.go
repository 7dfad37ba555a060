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
	"strconv"
	"strings"
)

// Vector is an exception or interrupt vector.
type Vector uint8

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException
	VirtualizationException
	ControlProtectionException
	VMMCommunicationException Vector = 0x1d
	SecurityException         Vector = 0x1e
)

const (
	// NumVectors is the size of the architectural vector space.
	NumVectors = 256

	// NumExceptionStubs is the number of dedicated exception entry stubs,
	// covering vectors 0 through 20.
	NumExceptionStubs = int(VirtualizationException) + 1

	// IDTEntries is the number of gates in the interrupt descriptor table.
	IDTEntries = 0x30

	// GenericInterrupt is the trap number pushed by the shared interrupt
	// entry, used for every table vector without a dedicated stub. It is
	// the first vector beyond the table, so the CPU can never deliver it
	// through our IDT.
	GenericInterrupt Vector = IDTEntries
)

// hasErrorCode records the vectors for which the CPU pushes an error code.
var hasErrorCode = [NumVectors]bool{
	DoubleFault:                true,
	InvalidTSS:                 true,
	SegmentNotPresent:          true,
	StackSegmentFault:          true,
	GeneralProtectionFault:     true,
	PageFault:                  true,
	AlignmentCheck:             true,
	ControlProtectionException: true,
	VMMCommunicationException:  true,
	SecurityException:          true,
}

// HasErrorCode returns true if the CPU pushes an error code for v.
//
//go:nosplit
func HasErrorCode(v Vector) bool {
	return hasErrorCode[v]
}

// IsException returns true if v has a dedicated exception entry stub.
func (v Vector) IsException() bool {
	return int(v) < NumExceptionStubs
}

var vectorNames = [...]string{
	DivideByZero:               "divide error",
	Debug:                      "debug",
	NMI:                        "non-maskable interrupt",
	Breakpoint:                 "breakpoint",
	Overflow:                   "overflow",
	BoundRangeExceeded:         "bound range exceeded",
	InvalidOpcode:              "invalid opcode",
	DeviceNotAvailable:         "device not available",
	DoubleFault:                "double fault",
	CoprocessorSegmentOverrun:  "coprocessor segment overrun",
	InvalidTSS:                 "invalid TSS",
	SegmentNotPresent:          "segment not present",
	StackSegmentFault:          "stack-segment fault",
	GeneralProtectionFault:     "general protection fault",
	PageFault:                  "page fault",
	15:                         "reserved",
	X87FloatingPointException:  "x87 floating-point exception",
	AlignmentCheck:             "alignment check",
	MachineCheck:               "machine check",
	SIMDFloatingPointException: "SIMD floating-point exception",
	VirtualizationException:    "virtualization exception",
	ControlProtectionException: "control protection exception",
	VMMCommunicationException:  "VMM communication exception",
	SecurityException:          "security exception",
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	if int(v) < len(vectorNames) && vectorNames[v] != "" {
		return vectorNames[v]
	}
	if v == GenericInterrupt {
		return "device interrupt"
	}
	return fmt.Sprintf("vector %d", uint8(v))
}

var vectorMnemonics = map[string]Vector{
	"DE":  DivideByZero,
	"DB":  Debug,
	"NMI": NMI,
	"BP":  Breakpoint,
	"OF":  Overflow,
	"BR":  BoundRangeExceeded,
	"UD":  InvalidOpcode,
	"NM":  DeviceNotAvailable,
	"DF":  DoubleFault,
	"TS":  InvalidTSS,
	"NP":  SegmentNotPresent,
	"SS":  StackSegmentFault,
	"GP":  GeneralProtectionFault,
	"PF":  PageFault,
	"MF":  X87FloatingPointException,
	"AC":  AlignmentCheck,
	"MC":  MachineCheck,
	"XM":  SIMDFloatingPointException,
	"VE":  VirtualizationException,
	"CP":  ControlProtectionException,
	"VC":  VMMCommunicationException,
	"SX":  SecurityException,
}

// ParseVector parses a vector given as a number (decimal, or hex with a 0x
// prefix) or as an exception mnemonic such as "PF" or "#GP". Either form
// may carry a leading '#'.
func ParseVector(s string) (Vector, error) {
	name := strings.TrimPrefix(s, "#")
	if v, ok := vectorMnemonics[strings.ToUpper(name)]; ok {
		return v, nil
	}
	n, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid vector %q", s)
	}
	return Vector(n), nil
}
