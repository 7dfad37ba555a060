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
	"sync/atomic"

	"gvisor.dev/ringzero/pkg/ring0"
)

// trapCommon is the shared tail of every stub. It is an assembly function.
func trapCommon()

// Exception stubs.
func divideByZero()
func debug()
func nmi()
func breakpoint()
func overflow()
func boundRangeExceeded()
func invalidOpcode()
func deviceNotAvailable()
func doubleFault()
func coprocessorSegmentOverrun()
func invalidTSS()
func segmentNotPresent()
func stackSegmentFault()
func generalProtectionFault()
func pageFault()
func reserved()
func x87FloatingPointException()
func alignmentCheck()
func machineCheck()
func simdFloatingPointException()
func virtualizationException()

// interrupt is the shared device interrupt entry.
func interrupt()

// These return the start address of the functions above.
//
// In Go 1.17+, Go references to assembly functions resolve to an ABIInternal
// wrapper function rather than the function itself. We must reference from
// assembly to get the ABI0 (i.e., primary) address.
func addrOfDivideByZero() uintptr
func addrOfDebug() uintptr
func addrOfNMI() uintptr
func addrOfBreakpoint() uintptr
func addrOfOverflow() uintptr
func addrOfBoundRangeExceeded() uintptr
func addrOfInvalidOpcode() uintptr
func addrOfDeviceNotAvailable() uintptr
func addrOfDoubleFault() uintptr
func addrOfCoprocessorSegmentOverrun() uintptr
func addrOfInvalidTSS() uintptr
func addrOfSegmentNotPresent() uintptr
func addrOfStackSegmentFault() uintptr
func addrOfGeneralProtectionFault() uintptr
func addrOfPageFault() uintptr
func addrOfReserved() uintptr
func addrOfX87FloatingPointException() uintptr
func addrOfAlignmentCheck() uintptr
func addrOfMachineCheck() uintptr
func addrOfSimdFloatingPointException() uintptr
func addrOfVirtualizationException() uintptr
func addrOfInterrupt() uintptr

// Stubs returns the entry stub addresses for ring0.IDT.Init.
func Stubs() (ring0.EntryStubs, error) {
	return ring0.EntryStubs{
		Exceptions: [ring0.NumExceptionStubs]uintptr{
			ring0.DivideByZero:               addrOfDivideByZero(),
			ring0.Debug:                      addrOfDebug(),
			ring0.NMI:                        addrOfNMI(),
			ring0.Breakpoint:                 addrOfBreakpoint(),
			ring0.Overflow:                   addrOfOverflow(),
			ring0.BoundRangeExceeded:         addrOfBoundRangeExceeded(),
			ring0.InvalidOpcode:              addrOfInvalidOpcode(),
			ring0.DeviceNotAvailable:         addrOfDeviceNotAvailable(),
			ring0.DoubleFault:                addrOfDoubleFault(),
			ring0.CoprocessorSegmentOverrun:  addrOfCoprocessorSegmentOverrun(),
			ring0.InvalidTSS:                 addrOfInvalidTSS(),
			ring0.SegmentNotPresent:          addrOfSegmentNotPresent(),
			ring0.StackSegmentFault:          addrOfStackSegmentFault(),
			ring0.GeneralProtectionFault:     addrOfGeneralProtectionFault(),
			ring0.PageFault:                  addrOfPageFault(),
			15:                               addrOfReserved(),
			ring0.X87FloatingPointException:  addrOfX87FloatingPointException(),
			ring0.AlignmentCheck:             addrOfAlignmentCheck(),
			ring0.MachineCheck:               addrOfMachineCheck(),
			ring0.SIMDFloatingPointException: addrOfSimdFloatingPointException(),
			ring0.VirtualizationException:    addrOfVirtualizationException(),
		},
		Interrupt: addrOfInterrupt(),
	}, nil
}

// attached is the CPU that trapEntry dispatches to.
//
// TODO: look the CPU up through the GS base once secondary CPUs
// are started natively.
var attached atomic.Pointer[ring0.CPU]

// Attach routes traps taken through the native stubs to c.
func Attach(c *ring0.CPU) {
	attached.Store(c)
}

// trapEntry is called by trapCommon with the frame it built on the stack.
//
// The frame is normalized by the dispatcher before any handler sees it.
//
//go:nosplit
func trapEntry(f *ring0.TrapFrame) {
	c := attached.Load()
	if c == nil {
		halt()
	}
	c.Trap(f)
}
