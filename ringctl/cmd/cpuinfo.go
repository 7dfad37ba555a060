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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/cpuid"
)

// CPUInfo implements subcommands.Command for the "cpuinfo" command.
type CPUInfo struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*CPUInfo) Name() string {
	return "cpuinfo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*CPUInfo) Synopsis() string {
	return "Print the host processor identification."
}

// Usage implements subcommands.Command.Usage.
func (*CPUInfo) Usage() string {
	return `cpuinfo [options] - Print the host processor identification and whether it can run the kernel.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *CPUInfo) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", outputText, "Output format (text, json, yaml).")
}

// ProcessorInfo is the output of the cpuinfo command.
type ProcessorInfo struct {
	Vendor       string          `json:"vendor" yaml:"vendor"`
	Brand        string          `json:"brand,omitempty" yaml:"brand,omitempty"`
	Signature    cpuid.Signature `json:"signature" yaml:"signature"`
	Family       uint32          `json:"family" yaml:"family"`
	Model        uint32          `json:"model" yaml:"model"`
	PhysicalBits uint32          `json:"physical_address_bits" yaml:"physical_address_bits"`
	VirtualBits  uint32          `json:"virtual_address_bits" yaml:"virtual_address_bits"`
	Flags        []string        `json:"flags" yaml:"flags"`
	Usable       []string        `json:"usable" yaml:"usable"`
	KernelReady  bool            `json:"kernel_ready" yaml:"kernel_ready"`
	Missing      []string        `json:"missing,omitempty" yaml:"missing,omitempty"`
}

func featureNames(fs []cpuid.Feature) []string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.String())
	}
	return names
}

func processorInfo(fs cpuid.FeatureSet, usable []cpuid.Feature) *ProcessorInfo {
	vendor := fs.VendorID()
	sig := fs.Signature()
	info := &ProcessorInfo{
		Vendor:       string(vendor[:]),
		Brand:        fs.BrandString(),
		Signature:    sig,
		Family:       sig.DisplayFamily(),
		Model:        sig.DisplayModel(),
		PhysicalBits: fs.PhysicalAddressBits(),
		VirtualBits:  fs.VirtualAddressBits(),
		Flags:        featureNames(fs.Features()),
		Usable:       featureNames(usable),
		KernelReady:  true,
	}
	if err := fs.CheckKernelFeatures(); err != nil {
		info.KernelReady = false
		var inc cpuid.ErrIncompatible
		if errors.As(err, &inc) {
			info.Missing = featureNames(inc.Missing)
		}
	}
	return info
}

func writeCPUInfo(w io.Writer, fs cpuid.FeatureSet, info *ProcessorInfo) error {
	fs.WriteCPUInfoTo(0, w)
	fmt.Fprintf(w, "usable\t\t: %s\n", strings.Join(info.Usable, " "))
	if info.KernelReady {
		fmt.Fprintf(w, "kernel\t\t: supported\n")
	} else {
		fmt.Fprintf(w, "kernel\t\t: missing %s\n", strings.Join(info.Missing, " "))
	}
	return nil
}

// Execute implements subcommands.Command.Execute.
func (c *CPUInfo) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if err := checkOutput(c.output); err != nil {
		return Errorf("%v", err)
	}
	fs := cpuid.HostFeatureSet()
	info := processorInfo(fs, cpuid.HostUsable())
	if err := writeOutput(os.Stdout, c.output, info, func(w io.Writer) error {
		return writeCPUInfo(w, fs, info)
	}); err != nil {
		return Errorf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}
