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

//go:build !amd64
// +build !amd64

package native

import (
	"gvisor.dev/ringzero/pkg/ring0"
)

// Stubs returns ErrUnsupported.
func Stubs() (ring0.EntryStubs, error) {
	return ring0.EntryStubs{}, ErrUnsupported
}

// Code returns ErrUnsupported.
func Code(addr uintptr) ([]byte, error) {
	return nil, ErrUnsupported
}
