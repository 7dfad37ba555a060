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

package cpuid

import (
	"testing"

	"golang.org/x/sys/cpu"
)

func TestHostFeatureSet(t *testing.T) {
	fs := HostFeatureSet()
	if fs.VendorID() == ([12]byte{}) {
		t.Errorf("host vendor ID is empty")
	}
	if err := fs.CheckKernelFeatures(); err != nil {
		t.Errorf("CheckKernelFeatures() = %v", err)
	}
	// These are reported by x/sys/cpu without any OS qualification, so the
	// raw bits must agree.
	for _, c := range []struct {
		f    Feature
		want bool
	}{
		{X86FeatureSSE2, cpu.X86.HasSSE2},
		{X86FeatureSSE3, cpu.X86.HasSSE3},
		{X86FeatureSSSE3, cpu.X86.HasSSSE3},
		{X86FeatureSSE4_1, cpu.X86.HasSSE41},
		{X86FeatureSSE4_2, cpu.X86.HasSSE42},
		{X86FeaturePOPCNT, cpu.X86.HasPOPCNT},
		{X86FeatureAES, cpu.X86.HasAES},
		{X86FeaturePCLMULQDQ, cpu.X86.HasPCLMULQDQ},
		{X86FeatureBMI1, cpu.X86.HasBMI1},
		{X86FeatureBMI2, cpu.X86.HasBMI2},
		{X86FeatureERMS, cpu.X86.HasERMS},
		{X86FeatureADX, cpu.X86.HasADX},
		{X86FeatureRDRAND, cpu.X86.HasRDRAND},
		{X86FeatureRDSEED, cpu.X86.HasRDSEED},
	} {
		if got := fs.HasFeature(c.f); got != c.want {
			t.Errorf("HasFeature(%v) = %t, x/sys/cpu says %t", c.f, got, c.want)
		}
	}
}

func TestHostUsable(t *testing.T) {
	fs := HostFeatureSet()
	for _, f := range HostUsable() {
		if !fs.HasFeature(f) {
			t.Errorf("%v usable but not reported by CPUID", f)
		}
	}
}
