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

// Package config holds the ringzero configuration file.
//
// The file is TOML:
//
//	[kernel]
//	image_begin = "0xffffffff80000000"
//	image_end = "0xffffffff80400000"
//	user_vectors = ["BP", "OF"]
//	trap_gates = [0x21]
//
//	[kernel.ist]
//	DF = 1
//	NMI = 2
//
//	[log]
//	level = "debug"
//	format = "json"
//	file = "/tmp/ringctl/%COMMAND%.%PID%.log"
//
//	[sim]
//	cpus = 4
//	stub_base = "0xffffffff80100000"
//
// Addresses are strings because TOML integers are signed 64-bit values.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gvisor.dev/ringzero/pkg/layout"
	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/pkg/ring0"
)

// Addr is an address, written as a string or an integer.
type Addr uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(string(text), "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", text)
	}
	*a = Addr(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(a))), nil
}

// Vector is a vector written as a number or an exception mnemonic.
type Vector ring0.Vector

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Vector) UnmarshalText(text []byte) error {
	pv, err := ring0.ParseVector(string(text))
	if err != nil {
		return err
	}
	*v = Vector(pv)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (v Vector) MarshalText() ([]byte, error) {
	return []byte(strconv.Itoa(int(v))), nil
}

// Kernel configures the descriptor tables.
type Kernel struct {
	// ImageBegin and ImageEnd bound the entry stubs. Both zero disables
	// the check.
	ImageBegin Addr `toml:"image_begin"`
	ImageEnd   Addr `toml:"image_end"`

	// UserVectors may be raised with INT n from ring 3.
	UserVectors []Vector `toml:"user_vectors"`

	// TrapGates leave interrupts enabled on entry.
	TrapGates []Vector `toml:"trap_gates"`

	// IST maps a vector to its interrupt stack table index.
	IST map[string]uint8 `toml:"ist"`
}

// Log configures logging.
type Log struct {
	// Level is one of "warning", "info" or "debug".
	Level string `toml:"level"`

	// Format is one of log.FormatText, log.FormatGoogle, log.FormatJSON or
	// log.FormatJSONK8s.
	Format string `toml:"format"`

	// File is a log file pattern, see log.PatternOpts. Empty logs to
	// stderr.
	File string `toml:"file"`
}

// Sim configures the simulated machine.
type Sim struct {
	CPUs     int  `toml:"cpus"`
	StubBase Addr `toml:"stub_base"`
}

// Config is the configuration file.
type Config struct {
	Kernel Kernel `toml:"kernel"`
	Log    Log    `toml:"log"`
	Sim    Sim    `toml:"sim"`
}

// MaxCPUs bounds Sim.CPUs.
const MaxCPUs = 256

// Default returns the default configuration: breakpoint and overflow are
// reachable from user mode and every gate uses the current stack.
func Default() *Config {
	return &Config{
		Kernel: Kernel{
			UserVectors: []Vector{Vector(ring0.Breakpoint), Vector(ring0.Overflow)},
		},
		Log: Log{
			Level:  "info",
			Format: log.FormatText,
		},
		Sim: Sim{
			CPUs:     1,
			StubBase: 0xFFFFFFFF80100000,
		},
	}
}

// Load reads the configuration at path. Settings missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return c, nil
}

// Parse is Load for configuration text.
func Parse(data string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.IDTOpts(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case log.FormatText, log.FormatGoogle, log.FormatJSON, log.FormatJSONK8s:
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Sim.CPUs < 1 || c.Sim.CPUs > MaxCPUs {
		return fmt.Errorf("sim.cpus %d out of range [1, %d]", c.Sim.CPUs, MaxCPUs)
	}
	return nil
}

// Image returns the configured kernel image bounds.
func (c *Config) Image() layout.Image {
	return layout.Image{
		Begin: uint64(c.Kernel.ImageBegin),
		End:   uint64(c.Kernel.ImageEnd),
	}
}

// IDTOpts returns the gate overrides for the IDT.
func (c *Config) IDTOpts() (ring0.IDTOpts, error) {
	var opts ring0.IDTOpts
	img := c.Image()
	if img.Begin != 0 || img.End != 0 {
		if err := img.Validate(); err != nil {
			return opts, err
		}
		opts.Image = img.Virtual()
	}
	for _, v := range c.Kernel.UserVectors {
		opts.UserVectors = append(opts.UserVectors, ring0.Vector(v))
	}
	for _, v := range c.Kernel.TrapGates {
		opts.TrapGates = append(opts.TrapGates, ring0.Vector(v))
	}
	if len(c.Kernel.IST) != 0 {
		opts.IST = make(map[ring0.Vector]uint8, len(c.Kernel.IST))
		names := make([]string, 0, len(c.Kernel.IST))
		for name := range c.Kernel.IST {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, err := ring0.ParseVector(name)
			if err != nil {
				return opts, fmt.Errorf("kernel.ist: %w", err)
			}
			if _, ok := opts.IST[v]; ok {
				return opts, fmt.Errorf("kernel.ist: vector %d given twice", uint8(v))
			}
			opts.IST[v] = c.Kernel.IST[name]
		}
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("kernel: %w", err)
	}
	return opts, nil
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() log.Level {
	l, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.Info
	}
	return l
}
