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

package cpuid

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// brandLeaves packs s into the three brand string leaves.
func brandLeaves(s string) []Out {
	var b [48]byte
	copy(b[:], s)
	word := func(i int) uint32 {
		return uint32(b[i]) | uint32(b[i+1])<<8 | uint32(b[i+2])<<16 | uint32(b[i+3])<<24
	}
	var out []Out
	for l := 0; l < 3; l++ {
		o := l * 16
		out = append(out, Out{Eax: word(o), Ebx: word(o + 4), Ecx: word(o + 8), Edx: word(o + 12)})
	}
	return out
}

func intelStatic() Static {
	bx, cx, dx := regsFromVendorID(genuineIntel)
	s := Static{
		{Eax: leafVendor}: {Eax: 0xd, Ebx: bx, Ecx: cx, Edx: dx},
		{Eax: leafFeatureInfo}: {
			Eax: 0x000906ea,
			Ecx: X86FeatureHYPERVISOR.bit() | X86FeatureXSAVE.bit(),
			Edx: X86FeatureFPU.bit() | X86FeaturePAE.bit() | X86FeatureFXSR.bit() | X86FeatureSSE2.bit(),
		},
		{Eax: leafExtended}:     {Ebx: X86FeatureSMEP.bit() | X86FeatureSMAP.bit()},
		{Eax: leafExtendedMax}:  {Eax: leafAddressSizes},
		{Eax: leafExtendedInfo}: {Edx: X86FeatureNX.bit() | X86FeatureLM.bit()},
		{Eax: leafAddressSizes}: {Eax: 0x3027},
	}
	for i, o := range brandLeaves("  Test CPU @ 1.00GHz") {
		s[In{Eax: leafBrandFirst + uint32(i)}] = o
	}
	return s
}

func TestVendorID(t *testing.T) {
	for _, want := range [][12]byte{genuineIntel, authenticAMD} {
		bx, cx, dx := regsFromVendorID(want)
		if got := vendorIDFromRegs(bx, cx, dx); got != want {
			t.Errorf("vendorIDFromRegs(regsFromVendorID(%q)) = %q", want[:], got[:])
		}
	}
	// "Genu" "ineI" "ntel" live in EBX, EDX, ECX.
	if got := vendorIDFromRegs(0x756e6547, 0x6c65746e, 0x49656e69); got != genuineIntel {
		t.Errorf("vendorIDFromRegs = %q, want GenuineIntel", got[:])
	}

	fs := FeatureSet{intelStatic()}
	if !fs.Intel() || fs.AMD() {
		t.Errorf("Intel() = %t, AMD() = %t, want true, false", fs.Intel(), fs.AMD())
	}
}

func TestSignature(t *testing.T) {
	for _, tc := range []struct {
		name       string
		eax        uint32
		want       Signature
		wantFamily uint32
		wantModel  uint32
	}{
		{
			name:       "intel",
			eax:        0x000906ea,
			want:       Signature{SteppingID: 0xa, Model: 0xe, Family: 0x6, ExtendedModel: 0x9},
			wantFamily: 6,
			wantModel:  0x9e,
		},
		{
			name:       "amd",
			eax:        0x00800f82,
			want:       Signature{SteppingID: 0x2, Model: 0x8, Family: 0xf, ExtendedModel: 0x8, ExtendedFamily: 0x8},
			wantFamily: 0x17,
			wantModel:  0x88,
		},
		{
			name:       "no extension",
			eax:        0x00010562,
			want:       Signature{SteppingID: 0x2, Model: 0x6, Family: 0x5, ExtendedModel: 0x1},
			wantFamily: 5,
			wantModel:  6,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := FeatureSet{Static{{Eax: leafFeatureInfo}: {Eax: tc.eax}}}
			got := fs.Signature()
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Signature() mismatch (-want +got):\n%s", diff)
			}
			if f := got.DisplayFamily(); f != tc.wantFamily {
				t.Errorf("DisplayFamily() = %#x, want %#x", f, tc.wantFamily)
			}
			if m := got.DisplayModel(); m != tc.wantModel {
				t.Errorf("DisplayModel() = %#x, want %#x", m, tc.wantModel)
			}
		})
	}
}

func TestBrandString(t *testing.T) {
	fs := FeatureSet{intelStatic()}
	if got, want := fs.BrandString(), "Test CPU @ 1.00GHz"; got != want {
		t.Errorf("BrandString() = %q, want %q", got, want)
	}
	if got := (FeatureSet{Static{}}).BrandString(); got != "" {
		t.Errorf("BrandString() without extended leaves = %q, want empty", got)
	}
}

func TestAddressBits(t *testing.T) {
	fs := FeatureSet{intelStatic()}
	if got := fs.VirtualAddressBits(); got != 48 {
		t.Errorf("VirtualAddressBits() = %d, want 48", got)
	}
	if got := fs.PhysicalAddressBits(); got != 39 {
		t.Errorf("PhysicalAddressBits() = %d, want 39", got)
	}

	empty := FeatureSet{Static{}}
	if got := empty.VirtualAddressBits(); got != 48 {
		t.Errorf("default VirtualAddressBits() = %d, want 48", got)
	}
	if got := empty.PhysicalAddressBits(); got != 36 {
		t.Errorf("default PhysicalAddressBits() = %d, want 36", got)
	}
}

func TestHasFeature(t *testing.T) {
	fs := FeatureSet{intelStatic()}
	for _, f := range []Feature{X86FeatureFPU, X86FeaturePAE, X86FeatureSMEP, X86FeatureSMAP, X86FeatureNX, X86FeatureLM, X86FeatureHYPERVISOR} {
		if !fs.HasFeature(f) {
			t.Errorf("HasFeature(%v) = false, want true", f)
		}
	}
	for _, f := range []Feature{X86FeatureAVX, X86FeatureGBPAGES, X86FeatureFSGSBase, X86FeaturePCID} {
		if fs.HasFeature(f) {
			t.Errorf("HasFeature(%v) = true, want false", f)
		}
	}

	// Leaf 7 is ignored when the maximum basic leaf is below it.
	low := intelStatic()
	low[In{Eax: leafVendor}] = Out{Eax: 1}
	if (FeatureSet{low}).HasFeature(X86FeatureSMEP) {
		t.Errorf("HasFeature(smep) with max leaf 1 = true, want false")
	}
}

func TestFeatures(t *testing.T) {
	fs := FeatureSet{intelStatic()}
	want := []Feature{
		X86FeatureXSAVE,
		X86FeatureHYPERVISOR,
		X86FeatureFPU,
		X86FeaturePAE,
		X86FeatureFXSR,
		X86FeatureSSE2,
		X86FeatureSMEP,
		X86FeatureSMAP,
		X86FeatureNX,
		X86FeatureLM,
	}
	if diff := cmp.Diff(want, fs.Features()); diff != "" {
		t.Errorf("Features() mismatch (-want +got):\n%s", diff)
	}
	if got, want := fs.FlagString(), "xsave hypervisor fpu pae fxsr sse2 smep smap nx lm"; got != want {
		t.Errorf("FlagString() = %q, want %q", got, want)
	}
}

func TestFeatureNames(t *testing.T) {
	for f, name := range x86FeatureNames {
		got, ok := FeatureFromString(name)
		if !ok || got != f {
			t.Errorf("FeatureFromString(%q) = %v, %t, want %v, true", name, got, ok, f)
		}
		if f.block() >= numBlocks {
			t.Errorf("feature %q in block %d, only %d blocks", name, f.block(), numBlocks)
		}
	}
	if _, ok := FeatureFromString("nonexistent"); ok {
		t.Errorf("FeatureFromString(nonexistent) succeeded")
	}
	if got, want := Feature(3*32+31).String(), "Feature(127)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCheckKernelFeatures(t *testing.T) {
	if err := (FeatureSet{intelStatic()}).CheckKernelFeatures(); err != nil {
		t.Errorf("CheckKernelFeatures() = %v, want nil", err)
	}

	s := intelStatic()
	s[In{Eax: leafExtendedInfo}] = Out{Edx: X86FeatureLM.bit()}
	err := (FeatureSet{s}).CheckKernelFeatures()
	var inc ErrIncompatible
	if !errors.As(err, &inc) {
		t.Fatalf("CheckKernelFeatures() = %v, want ErrIncompatible", err)
	}
	if diff := cmp.Diff([]Feature{X86FeatureNX}, inc.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "nx") {
		t.Errorf("error %q does not name nx", err)
	}
}

func TestWriteCPUInfoTo(t *testing.T) {
	var buf bytes.Buffer
	FeatureSet{intelStatic()}.WriteCPUInfoTo(2, &buf)
	want := "processor\t: 2\n" +
		"vendor_id\t: GenuineIntel\n" +
		"cpu family\t: 6\n" +
		"model\t\t: 158\n" +
		"model name\t: Test CPU @ 1.00GHz\n" +
		"stepping\t: 10\n" +
		"cpuid level\t: 13\n" +
		"flags\t\t: xsave hypervisor fpu pae fxsr sse2 smep smap nx lm\n" +
		"address sizes\t: 39 bits physical, 48 bits virtual\n" +
		"\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("WriteCPUInfoTo mismatch (-want +got):\n%s", diff)
	}
}
