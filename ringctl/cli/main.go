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

// Package cli is the main entrypoint for ringctl.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"gvisor.dev/ringzero/pkg/config"
	"gvisor.dev/ringzero/pkg/log"
	"gvisor.dev/ringzero/ringctl/cmd"
)

var (
	configFile = flag.String("config", "", "path to a TOML configuration file.")

	// These override the [log] section of the configuration.
	logLevel  = flag.String("log-level", "", "log level: warning, info or debug.")
	logFormat = flag.String("log-format", "", "log format: text, glog, json or json-k8s.")
	logFile   = flag.String("log-file", "", "log file pattern; %COMMAND%, %TIMESTAMP% and %PID% are expanded.")
)

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringctl: %v\n", err)
		os.Exit(128)
	}

	closer, err := conf.SetupLogging(flag.CommandLine.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringctl: %v\n", err)
		os.Exit(128)
	}

	log.Debugf("ringctl %s/%s, %s, %d CPUs, PID %d", runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU(), os.Getpid())
	log.Debugf("Args: %v", os.Args)

	status := subcommands.Execute(context.Background(), conf)
	if status != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, status: %v", status)
	}
	if closer != nil {
		closer.Close()
	}
	os.Exit(int(status))
}

// loadConfig reads the configuration file, if any, and applies the flag
// overrides.
func loadConfig() (*config.Config, error) {
	conf := config.Default()
	if *configFile != "" {
		var err error
		if conf, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if *logLevel != "" {
		conf.Log.Level = *logLevel
	}
	if *logFormat != "" {
		conf.Log.Format = *logFormat
	}
	if *logFile != "" {
		conf.Log.File = *logFile
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// forEachCmd invokes the passed callback for each command supported by
// ringctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	const tablesGroup = "descriptor tables"
	cb(new(cmd.Tables), tablesGroup)
	cb(new(cmd.Decode), tablesGroup)
	cb(new(cmd.Frame), tablesGroup)
	cb(new(cmd.Stubs), tablesGroup)

	const machineGroup = "machine"
	cb(new(cmd.Simulate), machineGroup)
	cb(new(cmd.CPUInfo), machineGroup)
}
