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
	"gvisor.dev/ringzero/pkg/config"
	"gvisor.dev/ringzero/pkg/layout"
	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/pkg/ring0"
	"gvisor.dev/ringzero/pkg/ring0/native"
	"gvisor.dev/ringzero/pkg/ring0/sim"
)

// Tables implements subcommands.Command for the "tables" command.
type Tables struct {
	output string
	native bool
}

// Name implements subcommands.Command.Name.
func (*Tables) Name() string {
	return "tables"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Tables) Synopsis() string {
	return "Build the GDT and IDT and print every entry."
}

// Usage implements subcommands.Command.Usage.
func (*Tables) Usage() string {
	return `tables [options] - Build the GDT and IDT and print every entry.

By default the IDT points at synthetic stubs placed at sim.stub_base. With
-native it points at the real entry stubs compiled into this binary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Tables) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.output, "o", outputText, "Output format (text, json, yaml).")
	f.BoolVar(&t.native, "native", false, "Use the native entry stubs.")
}

// Execute implements subcommands.Command.Execute.
func (t *Tables) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if err := checkOutput(t.output); err != nil {
		return Errorf("%v", err)
	}
	k, err := newKernel(confFromArgs(args), t.native)
	if err != nil {
		return Errorf("%v", err)
	}
	dump := dumpTables(k)
	if err := writeOutput(os.Stdout, t.output, dump, dump.writeText); err != nil {
		return Errorf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// newKernel builds the tables for conf, against the native stubs or the
// synthetic ones.
func newKernel(conf *config.Config, useNative bool) (*ring0.Kernel, error) {
	opts, err := conf.IDTOpts()
	if err != nil {
		return nil, err
	}
	var stubs ring0.EntryStubs
	if useNative {
		stubs, err = native.Stubs()
		if err != nil {
			return nil, fmt.Errorf("native stubs: %w", err)
		}
		if !opts.Image.Empty() {
			// The stubs live in this binary, not in the kernel image.
			log.Infof("Ignoring kernel image bounds %v for native stubs", opts.Image)
			opts.Image = layout.Region{}
		}
	} else {
		img := sim.NewStubImage(uintptr(conf.Sim.StubBase))
		stubs = img.Stubs()
		if opts.Image.Empty() {
			opts.Image = img.Region()
		}
	}
	k := new(ring0.Kernel)
	if err := k.Init(ring0.KernelOpts{Stubs: stubs, IDT: opts}); err != nil {
		return nil, err
	}
	return k, nil
}

// SegmentEntry is one GDT entry.
type SegmentEntry struct {
	Index      int    `json:"index" yaml:"index"`
	Selector   string `json:"selector" yaml:"selector"`
	Raw        string `json:"raw" yaml:"raw"`
	Descriptor string `json:"descriptor" yaml:"descriptor"`
}

// GateEntry is one IDT entry.
type GateEntry struct {
	Vector   int    `json:"vector" yaml:"vector"`
	Name     string `json:"name" yaml:"name"`
	Lo       string `json:"lo" yaml:"lo"`
	Hi       string `json:"hi" yaml:"hi"`
	Type     string `json:"type" yaml:"type"`
	Selector string `json:"selector" yaml:"selector"`
	Offset   string `json:"offset" yaml:"offset"`
	DPL      uint8  `json:"dpl" yaml:"dpl"`
	IST      uint8  `json:"ist" yaml:"ist"`
	Present  bool   `json:"present" yaml:"present"`
}

// TableDump is the output of the tables command.
type TableDump struct {
	GDTR string         `json:"gdtr" yaml:"gdtr"`
	GDT  []SegmentEntry `json:"gdt" yaml:"gdt"`
	IDTR string         `json:"idtr" yaml:"idtr"`
	IDT  []GateEntry    `json:"idt" yaml:"idt"`
}

func pointerString(p ring0.DescriptorPointer) string {
	return fmt.Sprintf("base=%#x limit=%#x", p.Base, p.Limit)
}

func dumpTables(k *ring0.Kernel) *TableDump {
	d := &TableDump{
		GDTR: pointerString(k.GDT().Pointer()),
		IDTR: pointerString(k.IDT().Pointer()),
	}
	for i := 0; i < ring0.GDTEntries; i++ {
		desc := k.GDT().Descriptor(i)
		d.GDT = append(d.GDT, SegmentEntry{
			Index:      i,
			Selector:   fmt.Sprintf("%#04x", uint16(ring0.NewSelector(i, 0))),
			Raw:        hex(desc.Pack()),
			Descriptor: desc.String(),
		})
	}
	for i := 0; i < ring0.IDTEntries; i++ {
		v := ring0.Vector(i)
		g := k.IDT().Gate(v)
		lo, hi := g.Pack()
		d.IDT = append(d.IDT, GateEntry{
			Vector:   i,
			Name:     v.String(),
			Lo:       hex(lo),
			Hi:       hex(hi),
			Type:     g.Type.String(),
			Selector: fmt.Sprintf("%#04x", uint16(g.Selector)),
			Offset:   hex(g.Offset),
			DPL:      g.DPL,
			IST:      g.IST,
			Present:  g.Present,
		})
	}
	return d
}

func (d *TableDump) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "GDT (%s)\n", d.GDTR)
	fmt.Fprintf(tw, "INDEX\tSELECTOR\tRAW\tDESCRIPTOR\n")
	for _, e := range d.GDT {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Index, e.Selector, e.Raw, e.Descriptor)
	}
	fmt.Fprintf(tw, "\nIDT (%s)\n", d.IDTR)
	fmt.Fprintf(tw, "VECTOR\tNAME\tTYPE\tSELECTOR\tOFFSET\tDPL\tIST\n")
	for _, e := range d.IDT {
		fmt.Fprintf(tw, "%#04x\t%s\t%s\t%s\t%s\t%d\t%d\n", e.Vector, e.Name, e.Type, e.Selector, e.Offset, e.DPL, e.IST)
	}
	return tw.Flush()
}
