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
	"fmt"
	"strings"
)

// Feature is a feature bit. Features are numbered in blocks of 32: the
// block selects the leaf and register, the remainder the bit.
type Feature int

const numBlocks = 4

// block returns the block of f.
func (f Feature) block() int {
	return int(f) / 32
}

// bit returns the bit mask of f within its block.
func (f Feature) bit() uint32 {
	return 1 << (uint(f) % 32)
}

const (
	// Block 0: leaf 1 ECX.
	X86FeatureSSE3       Feature = 0*32 + 0
	X86FeaturePCLMULQDQ  Feature = 0*32 + 1
	X86FeatureSSSE3      Feature = 0*32 + 9
	X86FeatureFMA        Feature = 0*32 + 12
	X86FeatureCX16       Feature = 0*32 + 13
	X86FeaturePCID       Feature = 0*32 + 17
	X86FeatureSSE4_1     Feature = 0*32 + 19
	X86FeatureSSE4_2     Feature = 0*32 + 20
	X86FeatureX2APIC     Feature = 0*32 + 21
	X86FeatureMOVBE      Feature = 0*32 + 22
	X86FeaturePOPCNT     Feature = 0*32 + 23
	X86FeatureTSCD       Feature = 0*32 + 24
	X86FeatureAES        Feature = 0*32 + 25
	X86FeatureXSAVE      Feature = 0*32 + 26
	X86FeatureOSXSAVE    Feature = 0*32 + 27
	X86FeatureAVX        Feature = 0*32 + 28
	X86FeatureF16C       Feature = 0*32 + 29
	X86FeatureRDRAND     Feature = 0*32 + 30
	X86FeatureHYPERVISOR Feature = 0*32 + 31

	// Block 1: leaf 1 EDX.
	X86FeatureFPU   Feature = 1*32 + 0
	X86FeatureVME   Feature = 1*32 + 1
	X86FeatureDE    Feature = 1*32 + 2
	X86FeaturePSE   Feature = 1*32 + 3
	X86FeatureTSC   Feature = 1*32 + 4
	X86FeatureMSR   Feature = 1*32 + 5
	X86FeaturePAE   Feature = 1*32 + 6
	X86FeatureMCE   Feature = 1*32 + 7
	X86FeatureCX8   Feature = 1*32 + 8
	X86FeatureAPIC  Feature = 1*32 + 9
	X86FeatureSEP   Feature = 1*32 + 11
	X86FeatureMTRR  Feature = 1*32 + 12
	X86FeaturePGE   Feature = 1*32 + 13
	X86FeatureMCA   Feature = 1*32 + 14
	X86FeatureCMOV  Feature = 1*32 + 15
	X86FeaturePAT   Feature = 1*32 + 16
	X86FeaturePSE36 Feature = 1*32 + 17
	X86FeatureCLFSH Feature = 1*32 + 19
	X86FeatureMMX   Feature = 1*32 + 23
	X86FeatureFXSR  Feature = 1*32 + 24
	X86FeatureSSE   Feature = 1*32 + 25
	X86FeatureSSE2  Feature = 1*32 + 26
	X86FeatureHTT   Feature = 1*32 + 28

	// Block 2: leaf 7 EBX.
	X86FeatureFSGSBase   Feature = 2*32 + 0
	X86FeatureBMI1       Feature = 2*32 + 3
	X86FeatureHLE        Feature = 2*32 + 4
	X86FeatureAVX2       Feature = 2*32 + 5
	X86FeatureSMEP       Feature = 2*32 + 7
	X86FeatureBMI2       Feature = 2*32 + 8
	X86FeatureERMS       Feature = 2*32 + 9
	X86FeatureINVPCID    Feature = 2*32 + 10
	X86FeatureRTM        Feature = 2*32 + 11
	X86FeatureAVX512F    Feature = 2*32 + 16
	X86FeatureRDSEED     Feature = 2*32 + 18
	X86FeatureADX        Feature = 2*32 + 19
	X86FeatureSMAP       Feature = 2*32 + 20
	X86FeatureCLFLUSHOPT Feature = 2*32 + 23
	X86FeatureCLWB       Feature = 2*32 + 24
	X86FeatureSHA        Feature = 2*32 + 29

	// Block 3: leaf 0x80000001 EDX.
	X86FeatureSYSCALL Feature = 3*32 + 11
	X86FeatureNX      Feature = 3*32 + 20
	X86FeatureGBPAGES Feature = 3*32 + 26
	X86FeatureRDTSCP  Feature = 3*32 + 27
	X86FeatureLM      Feature = 3*32 + 29
)

var x86FeatureNames = map[Feature]string{
	X86FeatureSSE3:       "pni",
	X86FeaturePCLMULQDQ:  "pclmulqdq",
	X86FeatureSSSE3:      "ssse3",
	X86FeatureFMA:        "fma",
	X86FeatureCX16:       "cx16",
	X86FeaturePCID:       "pcid",
	X86FeatureSSE4_1:     "sse4_1",
	X86FeatureSSE4_2:     "sse4_2",
	X86FeatureX2APIC:     "x2apic",
	X86FeatureMOVBE:      "movbe",
	X86FeaturePOPCNT:     "popcnt",
	X86FeatureTSCD:       "tsc_deadline_timer",
	X86FeatureAES:        "aes",
	X86FeatureXSAVE:      "xsave",
	X86FeatureOSXSAVE:    "osxsave",
	X86FeatureAVX:        "avx",
	X86FeatureF16C:       "f16c",
	X86FeatureRDRAND:     "rdrand",
	X86FeatureHYPERVISOR: "hypervisor",
	X86FeatureFPU:        "fpu",
	X86FeatureVME:        "vme",
	X86FeatureDE:         "de",
	X86FeaturePSE:        "pse",
	X86FeatureTSC:        "tsc",
	X86FeatureMSR:        "msr",
	X86FeaturePAE:        "pae",
	X86FeatureMCE:        "mce",
	X86FeatureCX8:        "cx8",
	X86FeatureAPIC:       "apic",
	X86FeatureSEP:        "sep",
	X86FeatureMTRR:       "mtrr",
	X86FeaturePGE:        "pge",
	X86FeatureMCA:        "mca",
	X86FeatureCMOV:       "cmov",
	X86FeaturePAT:        "pat",
	X86FeaturePSE36:      "pse36",
	X86FeatureCLFSH:      "clflush",
	X86FeatureMMX:        "mmx",
	X86FeatureFXSR:       "fxsr",
	X86FeatureSSE:        "sse",
	X86FeatureSSE2:       "sse2",
	X86FeatureHTT:        "ht",
	X86FeatureFSGSBase:   "fsgsbase",
	X86FeatureBMI1:       "bmi1",
	X86FeatureHLE:        "hle",
	X86FeatureAVX2:       "avx2",
	X86FeatureSMEP:       "smep",
	X86FeatureBMI2:       "bmi2",
	X86FeatureERMS:       "erms",
	X86FeatureINVPCID:    "invpcid",
	X86FeatureRTM:        "rtm",
	X86FeatureAVX512F:    "avx512f",
	X86FeatureRDSEED:     "rdseed",
	X86FeatureADX:        "adx",
	X86FeatureSMAP:       "smap",
	X86FeatureCLFLUSHOPT: "clflushopt",
	X86FeatureCLWB:       "clwb",
	X86FeatureSHA:        "sha_ni",
	X86FeatureSYSCALL:    "syscall",
	X86FeatureNX:         "nx",
	X86FeatureGBPAGES:    "pdpe1gb",
	X86FeatureRDTSCP:     "rdtscp",
	X86FeatureLM:         "lm",
}

// String implements fmt.Stringer.
func (f Feature) String() string {
	if name, ok := x86FeatureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Feature(%d)", int(f))
}

// FeatureFromString returns the feature with the given /proc/cpuinfo name.
func FeatureFromString(s string) (Feature, bool) {
	for f, name := range x86FeatureNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

// blockRegister returns the register holding block b.
func (fs FeatureSet) blockRegister(b int) uint32 {
	switch b {
	case 0:
		_, _, cx, _ := fs.query(leafFeatureInfo)
		return cx
	case 1:
		_, _, _, dx := fs.query(leafFeatureInfo)
		return dx
	case 2:
		if fs.MaxBasicLeaf() < leafExtended {
			return 0
		}
		_, bx, _, _ := fs.query(leafExtended)
		return bx
	case 3:
		if fs.MaxExtendedLeaf() < leafExtendedInfo {
			return 0
		}
		_, _, _, dx := fs.query(leafExtendedInfo)
		return dx
	default:
		return 0
	}
}

// HasFeature tests whether fs includes the given feature.
func (fs FeatureSet) HasFeature(f Feature) bool {
	return fs.blockRegister(f.block())&f.bit() != 0
}

// Features returns every known feature present in fs, in feature order.
func (fs FeatureSet) Features() []Feature {
	var present []Feature
	regs := make(map[int]uint32)
	for f := Feature(0); f < Feature(numBlocks*32); f++ {
		if _, ok := x86FeatureNames[f]; !ok {
			continue
		}
		r, ok := regs[f.block()]
		if !ok {
			r = fs.blockRegister(f.block())
			regs[f.block()] = r
		}
		if r&f.bit() != 0 {
			present = append(present, f)
		}
	}
	return present
}

// FlagString returns the space-separated names of the features in fs.
func (fs FeatureSet) FlagString() string {
	var names []string
	for _, f := range fs.Features() {
		names = append(names, f.String())
	}
	return strings.Join(names, " ")
}

// KernelFeatures are required to run the kernel: long mode for the 64-bit
// descriptors, PAE paging, FXSR for the FPU state and NX for the page
// tables.
var KernelFeatures = []Feature{
	X86FeatureFPU,
	X86FeaturePAE,
	X86FeatureFXSR,
	X86FeatureSSE2,
	X86FeatureNX,
	X86FeatureLM,
}

// ErrIncompatible is returned by CheckKernelFeatures when a required
// feature is missing.
type ErrIncompatible struct {
	Missing []Feature
}

// Error implements error.
func (e ErrIncompatible) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = f.String()
	}
	return fmt.Sprintf("missing required CPU features: %s", strings.Join(names, " "))
}

// CheckKernelFeatures returns ErrIncompatible if fs lacks any of
// KernelFeatures.
func (fs FeatureSet) CheckKernelFeatures() error {
	var missing []Feature
	for _, f := range KernelFeatures {
		if !fs.HasFeature(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) != 0 {
		return ErrIncompatible{Missing: missing}
	}
	return nil
}
