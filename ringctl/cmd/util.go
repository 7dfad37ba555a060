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

// Package cmd holds implementations of the ringctl commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/ringzero/pkg/config"
	"gvisor.dev/ringzero/pkg/log"
)

// Output formats accepted by the -o flag.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// Errorf logs the error and writes it to stderr, returning the failure
// status for Execute.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, "ringctl: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// confFromArgs returns the configuration passed to subcommands.Execute.
func confFromArgs(args []any) *config.Config {
	if len(args) > 0 {
		if c, ok := args[0].(*config.Config); ok {
			return c
		}
	}
	return config.Default()
}

// checkOutput returns an error if format is not a known output format.
func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}

// writeOutput writes v to w in the given format. text renders the text
// format.
func writeOutput(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case outputText:
		return text(w)
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return checkOutput(format)
	}
}

// hex formats v the way the dumps print raw values.
func hex(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}
