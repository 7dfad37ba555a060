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

// Package cpuid decodes the processor identification leaves the kernel
// cares about: the vendor, the processor signature, the address widths and
// the feature bits that gate descriptor table and paging behavior.
//
// A FeatureSet reads leaves through a Function, either the CPUID
// instruction itself (Native) or a fixed table (Static).
package cpuid

import (
	"fmt"
	"io"
	"strings"
)

// In is the input to CPUID.
type In struct {
	Eax uint32
	Ecx uint32
}

// Out is the output of CPUID.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Function executes a CPUID query.
type Function interface {
	Query(In) Out
}

// Static is a fixed CPUID table. Leaves not present read as zero.
type Static map[In]Out

// Query implements Function.Query.
func (s Static) Query(in In) Out {
	return s[in]
}

// Leaves used here.
const (
	leafVendor       = 0x0
	leafFeatureInfo  = 0x1
	leafExtended     = 0x7
	leafExtendedMax  = 0x80000000
	leafExtendedInfo = 0x80000001
	leafBrandFirst   = 0x80000002
	leafBrandLast    = 0x80000004
	leafAddressSizes = 0x80000008
)

// FeatureSet answers questions about one processor.
type FeatureSet struct {
	Function
}

func (fs FeatureSet) query(eax uint32) (uint32, uint32, uint32, uint32) {
	out := fs.Query(In{Eax: eax})
	return out.Eax, out.Ebx, out.Ecx, out.Edx
}

// MaxBasicLeaf returns the highest basic leaf the processor implements.
func (fs FeatureSet) MaxBasicLeaf() uint32 {
	ax, _, _, _ := fs.query(leafVendor)
	return ax
}

// MaxExtendedLeaf returns the highest extended leaf the processor
// implements, or zero if there are none.
func (fs FeatureSet) MaxExtendedLeaf() uint32 {
	ax, _, _, _ := fs.query(leafExtendedMax)
	if ax < leafExtendedMax {
		return 0
	}
	return ax
}

func vendorIDFromRegs(bx, cx, dx uint32) (r [12]byte) {
	for i := uint(0); i < 4; i++ {
		r[i] = byte(bx >> (i * 8))
		r[4+i] = byte(dx >> (i * 8))
		r[8+i] = byte(cx >> (i * 8))
	}
	return r
}

func regsFromVendorID(r [12]byte) (bx, cx, dx uint32) {
	for i := uint(0); i < 4; i++ {
		bx |= uint32(r[i]) << (i * 8)
		dx |= uint32(r[4+i]) << (i * 8)
		cx |= uint32(r[8+i]) << (i * 8)
	}
	return
}

// VendorID returns the 12-byte vendor ID.
func (fs FeatureSet) VendorID() [12]byte {
	_, bx, cx, dx := fs.query(leafVendor)
	return vendorIDFromRegs(bx, cx, dx)
}

var (
	authenticAMD = [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	genuineIntel = [12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}
)

// Intel returns true if the vendor is Intel.
func (fs FeatureSet) Intel() bool {
	return fs.VendorID() == genuineIntel
}

// AMD returns true if the vendor is AMD.
func (fs FeatureSet) AMD() bool {
	return fs.VendorID() == authenticAMD
}

// Signature is the decoded processor signature from leaf 1.
type Signature struct {
	SteppingID     uint8 `json:"stepping" yaml:"stepping"`
	Model          uint8 `json:"model" yaml:"model"`
	Family         uint8 `json:"family" yaml:"family"`
	ProcessorType  uint8 `json:"type" yaml:"type"`
	ExtendedModel  uint8 `json:"extended_model" yaml:"extended_model"`
	ExtendedFamily uint8 `json:"extended_family" yaml:"extended_family"`
}

func signatureSplit(v uint32) Signature {
	return Signature{
		SteppingID:     uint8(v & 0xf),
		Model:          uint8(v>>4) & 0xf,
		Family:         uint8(v>>8) & 0xf,
		ProcessorType:  uint8(v>>12) & 0x3,
		ExtendedModel:  uint8(v>>16) & 0xf,
		ExtendedFamily: uint8(v >> 20),
	}
}

// DisplayFamily returns the family as reported by the processor manuals:
// the extended family is only added for family 0xf.
func (s Signature) DisplayFamily() uint32 {
	if s.Family == 0xf {
		return uint32(s.Family) + uint32(s.ExtendedFamily)
	}
	return uint32(s.Family)
}

// DisplayModel returns the model as reported by the processor manuals: the
// extended model is only used for families 0x6 and 0xf.
func (s Signature) DisplayModel() uint32 {
	if s.Family == 0x6 || s.Family == 0xf {
		return uint32(s.ExtendedModel)<<4 | uint32(s.Model)
	}
	return uint32(s.Model)
}

// Signature returns the processor signature.
func (fs FeatureSet) Signature() Signature {
	ax, _, _, _ := fs.query(leafFeatureInfo)
	return signatureSplit(ax)
}

// BrandString returns the processor brand string, or "" if the processor
// does not report one.
func (fs FeatureSet) BrandString() string {
	if fs.MaxExtendedLeaf() < leafBrandLast {
		return ""
	}
	var b []byte
	for leaf := uint32(leafBrandFirst); leaf <= leafBrandLast; leaf++ {
		ax, bx, cx, dx := fs.query(leaf)
		for _, r := range []uint32{ax, bx, cx, dx} {
			b = append(b, byte(r), byte(r>>8), byte(r>>16), byte(r>>24))
		}
	}
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// VirtualAddressBits returns the number of bits available for virtual
// addresses, or 48 if the processor does not report it.
func (fs FeatureSet) VirtualAddressBits() uint32 {
	if fs.MaxExtendedLeaf() < leafAddressSizes {
		return 48
	}
	ax, _, _, _ := fs.query(leafAddressSizes)
	return (ax >> 8) & 0xff
}

// PhysicalAddressBits returns the number of bits available for physical
// addresses, or 36 if the processor does not report it.
func (fs FeatureSet) PhysicalAddressBits() uint32 {
	if fs.MaxExtendedLeaf() < leafAddressSizes {
		return 36
	}
	ax, _, _, _ := fs.query(leafAddressSizes)
	return ax & 0xff
}

// WriteCPUInfoTo writes a summary of fs in the style of /proc/cpuinfo.
func (fs FeatureSet) WriteCPUInfoTo(cpu uint, w io.Writer) {
	sig := fs.Signature()
	vendor := fs.VendorID()
	name := fs.BrandString()
	if name == "" {
		name = "unknown"
	}
	fmt.Fprintf(w, "processor\t: %d\n", cpu)
	fmt.Fprintf(w, "vendor_id\t: %s\n", string(vendor[:]))
	fmt.Fprintf(w, "cpu family\t: %d\n", sig.DisplayFamily())
	fmt.Fprintf(w, "model\t\t: %d\n", sig.DisplayModel())
	fmt.Fprintf(w, "model name\t: %s\n", name)
	fmt.Fprintf(w, "stepping\t: %d\n", sig.SteppingID)
	fmt.Fprintf(w, "cpuid level\t: %d\n", fs.MaxBasicLeaf())
	fmt.Fprintf(w, "flags\t\t: %s\n", fs.FlagString())
	fmt.Fprintf(w, "address sizes\t: %d bits physical, %d bits virtual\n", fs.PhysicalAddressBits(), fs.VirtualAddressBits())
	fmt.Fprintf(w, "\n")
}
