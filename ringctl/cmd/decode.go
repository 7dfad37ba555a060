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
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/ring0"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	output string
	gate   bool
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "Decode raw segment or gate descriptors."
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [options] <value>... - Decode raw descriptors.

Each value is a segment descriptor, e.g. 0x00af9a000000ffff. With -gate the
values are taken in pairs as the low and high quadwords of a gate.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.output, "o", outputText, "Output format (text, json, yaml).")
	f.BoolVar(&d.gate, "gate", false, "Decode 16-byte gate descriptors.")
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := checkOutput(d.output); err != nil {
		return Errorf("%v", err)
	}
	if err := d.run(os.Stdout, f.Args()); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// DecodedSegment is a decoded segment descriptor.
type DecodedSegment struct {
	Raw           string `json:"raw" yaml:"raw"`
	Base          string `json:"base" yaml:"base"`
	Limit         string `json:"limit" yaml:"limit"`
	Type          uint8  `json:"type" yaml:"type"`
	CodeData      bool   `json:"code_data" yaml:"code_data"`
	DPL           uint8  `json:"dpl" yaml:"dpl"`
	Present       bool   `json:"present" yaml:"present"`
	Long          bool   `json:"long" yaml:"long"`
	DefaultSize32 bool   `json:"default_size_32" yaml:"default_size_32"`
	Granularity   bool   `json:"granularity" yaml:"granularity"`
	Summary       string `json:"summary" yaml:"summary"`
}

// DecodedGate is a decoded gate descriptor.
type DecodedGate struct {
	Lo       string `json:"lo" yaml:"lo"`
	Hi       string `json:"hi" yaml:"hi"`
	Offset   string `json:"offset" yaml:"offset"`
	Selector string `json:"selector" yaml:"selector"`
	Type     string `json:"type" yaml:"type"`
	DPL      uint8  `json:"dpl" yaml:"dpl"`
	IST      uint8  `json:"ist" yaml:"ist"`
	Present  bool   `json:"present" yaml:"present"`
	Summary  string `json:"summary" yaml:"summary"`
}

func parseWord(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid descriptor value %q", s)
	}
	return v, nil
}

func decodeSegment(v uint64) DecodedSegment {
	d := ring0.UnpackSegment(v)
	return DecodedSegment{
		Raw:           hex(v),
		Base:          fmt.Sprintf("%#x", d.Base),
		Limit:         fmt.Sprintf("%#x", d.EffectiveLimit()),
		Type:          uint8(d.Type),
		CodeData:      d.CodeData,
		DPL:           d.DPL,
		Present:       d.Present,
		Long:          d.Long,
		DefaultSize32: d.DefaultSize32,
		Granularity:   d.Granularity,
		Summary:       d.String(),
	}
}

func decodeGate(lo, hi uint64) DecodedGate {
	g := ring0.UnpackGate(lo, hi)
	return DecodedGate{
		Lo:       hex(lo),
		Hi:       hex(hi),
		Offset:   hex(g.Offset),
		Selector: fmt.Sprintf("%#04x", uint16(g.Selector)),
		Type:     g.Type.String(),
		DPL:      g.DPL,
		IST:      g.IST,
		Present:  g.Present,
		Summary:  g.String(),
	}
}

func (d *Decode) run(w io.Writer, args []string) error {
	words := make([]uint64, 0, len(args))
	for _, a := range args {
		v, err := parseWord(a)
		if err != nil {
			return err
		}
		words = append(words, v)
	}

	if d.gate {
		if len(words)%2 != 0 {
			return fmt.Errorf("gates take two values each, got %d values", len(words))
		}
		var gates []DecodedGate
		for i := 0; i < len(words); i += 2 {
			gates = append(gates, decodeGate(words[i], words[i+1]))
		}
		return writeOutput(w, d.output, gates, func(w io.Writer) error {
			for _, g := range gates {
				fmt.Fprintf(w, "%s %s: %s\n", g.Lo, g.Hi, g.Summary)
			}
			return nil
		})
	}

	var segs []DecodedSegment
	for _, v := range words {
		segs = append(segs, decodeSegment(v))
	}
	return writeOutput(w, d.output, segs, func(w io.Writer) error {
		for _, s := range segs {
			fmt.Fprintf(w, "%s: %s\n", s.Raw, s.Summary)
		}
		return nil
	})
}
