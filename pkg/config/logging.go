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

package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gvisor.dev/ringzero/pkg/log"
)

// SetupLogging points the global logger at the configured destination and
// returns the file to close when done, or nil when logging to stderr.
func (c *Config) SetupLogging(command string) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if c.Log.File != "" {
		f, err := log.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, log.PatternOpts{
			Command:   command,
			Timestamp: time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}
	e, err := log.NewEmitter(c.Log.Format, w)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	log.SetTarget(e)
	log.SetLevel(c.LogLevel())
	return closer, nil
}
