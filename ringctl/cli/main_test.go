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

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/log"
)

func TestForEachCmd(t *testing.T) {
	names := make(map[string]bool)
	forEachCmd(func(c subcommands.Command, group string) {
		if names[c.Name()] {
			t.Errorf("command %q registered twice", c.Name())
		}
		names[c.Name()] = true
	})
	for _, want := range []string{"help", "tables", "decode", "frame", "stubs", "simulate", "cpuinfo"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringzero.toml")
	data := "[log]\nlevel = \"warning\"\n[sim]\ncpus = 3\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	defer func(c, l, f string) {
		*configFile, *logLevel, *logFormat = c, l, f
	}(*configFile, *logLevel, *logFormat)

	*configFile = path
	*logLevel = "debug"
	*logFormat = log.FormatJSON
	conf, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if conf.Sim.CPUs != 3 {
		t.Errorf("Sim.CPUs = %d, want 3", conf.Sim.CPUs)
	}
	if conf.LogLevel() != log.Debug {
		t.Errorf("LogLevel() = %v, want the flag override Debug", conf.LogLevel())
	}
	if conf.Log.Format != log.FormatJSON {
		t.Errorf("Log.Format = %q, want %q", conf.Log.Format, log.FormatJSON)
	}

	*logFormat = "xml"
	if _, err := loadConfig(); err == nil {
		t.Errorf("loadConfig with an invalid format succeeded")
	}
}
