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

// Package layout describes where the kernel image lives in memory.
//
// The image bounds come from the linker; this package only consumes them.
package layout

import (
	"fmt"

	"gvisor.dev/ringzero/pkg/hostarch"
)

const (
	// KernelVMA is the virtual address the kernel is linked at. It must
	// match the linker script.
	KernelVMA = 0xFFFFFFFF80000000

	// KernelStackSize is the size of the boot and trap stack.
	KernelStackSize = 0x2000
)

// Region is a contiguous range of memory.
type Region struct {
	Addr uint64
	Size uint64
}

// End returns the first address past r.
func (r Region) End() uint64 {
	return r.Addr + r.Size
}

// Empty returns true if r covers no memory.
func (r Region) Empty() bool {
	return r.Size == 0
}

// Contains returns true if addr lies within r.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr-r.Addr < r.Size
}

// PageAligned returns the smallest page-aligned region containing r.
func (r Region) PageAligned() Region {
	ar := hostarch.AddrRange{
		Start: hostarch.Addr(r.Addr),
		End:   hostarch.Addr(r.End()),
	}.PageRange()
	return Region{Addr: uint64(ar.Start), Size: ar.Length()}
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Addr, r.End())
}

// PhysAddr returns the physical address of a kernel virtual address.
//
// This is only valid for addresses in the kernel image, which is mapped
// linearly at KernelVMA.
func PhysAddr(vaddr uint64) uint64 {
	return vaddr - KernelVMA
}

// VirtAddr is the inverse of PhysAddr.
func VirtAddr(paddr uint64) uint64 {
	return paddr + KernelVMA
}

// Image describes the kernel image placement.
type Image struct {
	// Begin and End are the linker-provided virtual bounds.
	Begin uint64
	End   uint64
}

// Validate checks that the image is non-empty, canonical and above
// KernelVMA.
func (i Image) Validate() error {
	if i.End <= i.Begin {
		return fmt.Errorf("kernel image end %#x not after begin %#x", i.End, i.Begin)
	}
	if i.Begin < KernelVMA {
		return fmt.Errorf("kernel image begin %#x below kernel base %#x", i.Begin, uint64(KernelVMA))
	}
	if !hostarch.Addr(i.Begin).IsCanonical() {
		return fmt.Errorf("kernel image begin %#x is not canonical", i.Begin)
	}
	return nil
}

// Virtual returns the region occupied by the image in virtual memory.
func (i Image) Virtual() Region {
	return Region{Addr: i.Begin, Size: i.End - i.Begin}
}

// Physical returns the region occupied by the image in physical memory.
func (i Image) Physical() Region {
	return Region{Addr: PhysAddr(i.Begin), Size: i.End - i.Begin}
}

// Mapping returns the huge-page aligned virtual region that must be mapped
// to cover the image.
func (i Image) Mapping() Region {
	start := hostarch.Addr(i.Begin).HugeRoundDown()
	end, ok := hostarch.Addr(i.End).HugeRoundUp()
	if !ok {
		end = ^hostarch.Addr(0)
	}
	return Region{Addr: uint64(start), Size: uint64(end - start)}
}
