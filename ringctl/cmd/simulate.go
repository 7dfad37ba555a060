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
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/config"
	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/pkg/ring0"
	"gvisor.dev/ringzero/pkg/ring0/sim"
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	cpu    int
	handle string
	fatal  string
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "Boot a simulated machine and deliver exceptions to it."
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [options] <vector>[:<error code>]... - Deliver exceptions to a simulated machine.

Vectors are numbers or mnemonics (PF, GP, ...). Device interrupts are
reported to handlers as vector 0x30. Delivery stops at the first fatal trap.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.cpu, "cpu", 0, "vCPU to deliver to.")
	f.StringVar(&s.handle, "handle", "BP,PF,0x30", "Comma-separated vectors whose handler resumes.")
	f.StringVar(&s.fatal, "fatal", "", "Comma-separated vectors whose handler reports a fatal trap.")
}

// Event is one exception to deliver.
type Event struct {
	Vector    ring0.Vector
	ErrorCode uint64
}

// parseEvent parses "<vector>[:<error code>]".
func parseEvent(s string) (Event, error) {
	vs, es, hasCode := strings.Cut(s, ":")
	v, err := ring0.ParseVector(vs)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Vector: v}
	if hasCode {
		ev.ErrorCode, err = strconv.ParseUint(es, 0, 64)
		if err != nil {
			return Event{}, fmt.Errorf("invalid error code %q", es)
		}
	}
	return ev, nil
}

func parseVectorList(s string) ([]ring0.Vector, error) {
	var vs []ring0.Vector
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := ring0.ParseVector(f)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

// run boots a machine for conf and delivers events, reporting to w.
func (s *Simulate) run(ctx context.Context, w io.Writer, conf *config.Config, events []Event) error {
	opts, err := conf.IDTOpts()
	if err != nil {
		return err
	}
	m, err := sim.NewMachine(sim.MachineOpts{
		CPUs:     conf.Sim.CPUs,
		StubBase: uintptr(conf.Sim.StubBase),
		IDT:      opts,
		Console:  ring0.WriterConsole{Writer: w},
	})
	if err != nil {
		return err
	}
	if s.cpu < 0 || s.cpu >= len(m.VCPUs()) {
		return fmt.Errorf("no vCPU %d, machine has %d", s.cpu, len(m.VCPUs()))
	}

	resume, err := parseVectorList(s.handle)
	if err != nil {
		return fmt.Errorf("-handle: %w", err)
	}
	fatal, err := parseVectorList(s.fatal)
	if err != nil {
		return fmt.Errorf("-fatal: %w", err)
	}
	for _, v := range resume {
		if err := m.Kernel().RegisterFunc(v, func(f *ring0.TrapFrame) ring0.ResumeAction {
			log.Infof("Handled %v at rip %#x, error code %#x", v, f.Rip, f.ErrorCode)
			return ring0.Continue
		}); err != nil {
			return err
		}
	}
	for _, v := range fatal {
		if err := m.Kernel().RegisterFunc(v, func(*ring0.TrapFrame) ring0.ResumeAction {
			return ring0.Fatal
		}); err != nil {
			return err
		}
	}

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("starting machine: %w", err)
	}
	vcpu := m.VCPU(s.cpu)
	fmt.Fprintf(w, "machine up: %d vCPUs, GDTR base=%#x IDTR base=%#x\n", len(m.VCPUs()), vcpu.GDTR().Base, vcpu.IDTR().Base)

	for _, ev := range events {
		action, err := vcpu.Raise(ev.Vector, ev.ErrorCode)
		switch {
		case errors.Is(err, sim.ErrTripleFault):
			fmt.Fprintf(w, "%#04x %v: %v\n", uint8(ev.Vector), ev.Vector, err)
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "%#04x %v: %v\n", uint8(ev.Vector), ev.Vector, action)
		if action == ring0.Fatal {
			break
		}
	}

	d := vcpu.CPU().Dispatcher()
	fmt.Fprintf(w, "dispatcher: %v\n", d.State())
	for v := 0; v < ring0.NumVectors; v++ {
		if n := d.Count(ring0.Vector(v)); n != 0 {
			fmt.Fprintf(w, "  %#04x %v: %d\n", v, ring0.Vector(v), n)
		}
	}
	return nil
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	var events []Event
	for _, a := range f.Args() {
		ev, err := parseEvent(a)
		if err != nil {
			return Errorf("%v", err)
		}
		events = append(events, ev)
	}
	if err := s.run(ctx, os.Stdout, confFromArgs(args), events); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
