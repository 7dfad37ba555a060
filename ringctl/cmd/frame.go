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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/ring0"
)

// Frame implements subcommands.Command for the "frame" command.
type Frame struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Frame) Name() string {
	return "frame"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Frame) Synopsis() string {
	return "Print the trap frame layout."
}

// Usage implements subcommands.Command.Usage.
func (*Frame) Usage() string {
	return `frame [options] - Print the trap frame layout and the vectors that push an error code.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fr *Frame) SetFlags(f *flag.FlagSet) {
	f.StringVar(&fr.output, "o", outputText, "Output format (text, json, yaml).")
}

// FrameInfo is the output of the frame command.
type FrameInfo struct {
	Size             int          `json:"size" yaml:"size"`
	Fields           []FrameEntry `json:"fields" yaml:"fields"`
	ErrorCodeVectors []int        `json:"error_code_vectors" yaml:"error_code_vectors"`
}

// FrameEntry is one trap frame field.
type FrameEntry struct {
	Name   string `json:"name" yaml:"name"`
	Offset int    `json:"offset" yaml:"offset"`
}

func frameInfo() *FrameInfo {
	info := &FrameInfo{Size: ring0.FrameSize}
	for _, fl := range ring0.FrameLayout {
		info.Fields = append(info.Fields, FrameEntry{Name: fl.Name, Offset: fl.Offset})
	}
	for v := 0; v < ring0.NumVectors; v++ {
		if ring0.HasErrorCode(ring0.Vector(v)) {
			info.ErrorCodeVectors = append(info.ErrorCodeVectors, v)
		}
	}
	return info
}

func (info *FrameInfo) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "OFFSET\tFIELD\n")
	for _, e := range info.Fields {
		fmt.Fprintf(tw, "%#04x\t%s\n", e.Offset, e.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "size: %#x\n", info.Size)
	fmt.Fprintf(w, "error code vectors:")
	for _, v := range info.ErrorCodeVectors {
		fmt.Fprintf(w, " %d", v)
	}
	fmt.Fprintf(w, "\n")
	return nil
}

// Execute implements subcommands.Command.Execute.
func (fr *Frame) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if err := checkOutput(fr.output); err != nil {
		return Errorf("%v", err)
	}
	info := frameInfo()
	if err := writeOutput(os.Stdout, fr.output, info, info.writeText); err != nil {
		return Errorf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}
