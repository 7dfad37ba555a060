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
	"golang.org/x/sys/cpu"
)

// HostUsable returns the SIMD and crypto features the host processor
// reports and the operating system has enabled. Unlike HostFeatureSet, AVX
// class features are only listed when the OS saves their state.
func HostUsable() []Feature {
	checks := []struct {
		f  Feature
		ok bool
	}{
		{X86FeatureSSE2, cpu.X86.HasSSE2},
		{X86FeatureSSE3, cpu.X86.HasSSE3},
		{X86FeatureSSSE3, cpu.X86.HasSSSE3},
		{X86FeatureSSE4_1, cpu.X86.HasSSE41},
		{X86FeatureSSE4_2, cpu.X86.HasSSE42},
		{X86FeaturePOPCNT, cpu.X86.HasPOPCNT},
		{X86FeatureAES, cpu.X86.HasAES},
		{X86FeaturePCLMULQDQ, cpu.X86.HasPCLMULQDQ},
		{X86FeatureOSXSAVE, cpu.X86.HasOSXSAVE},
		{X86FeatureAVX, cpu.X86.HasAVX},
		{X86FeatureFMA, cpu.X86.HasFMA},
		{X86FeatureAVX2, cpu.X86.HasAVX2},
		{X86FeatureAVX512F, cpu.X86.HasAVX512F},
		{X86FeatureBMI1, cpu.X86.HasBMI1},
		{X86FeatureBMI2, cpu.X86.HasBMI2},
		{X86FeatureERMS, cpu.X86.HasERMS},
		{X86FeatureADX, cpu.X86.HasADX},
		{X86FeatureRDRAND, cpu.X86.HasRDRAND},
		{X86FeatureRDSEED, cpu.X86.HasRDSEED},
	}
	var usable []Feature
	for _, c := range checks {
		if c.ok {
			usable = append(usable, c.f)
		}
	}
	return usable
}
