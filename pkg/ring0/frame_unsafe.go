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

package ring0

import (
	"unsafe"
)

// Compile-time checks that the TrapFrame layout matches the offsets used by
// the entry stubs. Each pair fails to compile (negative array length) if the
// two sides differ in either direction.
var (
	_ [FrameSize - unsafe.Sizeof(TrapFrame{})]struct{}
	_ [unsafe.Sizeof(TrapFrame{}) - FrameSize]struct{}

	_ [FrameTrapNo - unsafe.Offsetof(TrapFrame{}.TrapNo)]struct{}
	_ [unsafe.Offsetof(TrapFrame{}.TrapNo) - FrameTrapNo]struct{}

	_ [FrameErrorCode - unsafe.Offsetof(TrapFrame{}.ErrorCode)]struct{}
	_ [unsafe.Offsetof(TrapFrame{}.ErrorCode) - FrameErrorCode]struct{}

	_ [FrameRip - unsafe.Offsetof(TrapFrame{}.Rip)]struct{}
	_ [unsafe.Offsetof(TrapFrame{}.Rip) - FrameRip]struct{}

	_ [FrameGs - unsafe.Offsetof(TrapFrame{}.Gs)]struct{}
	_ [unsafe.Offsetof(TrapFrame{}.Gs) - FrameGs]struct{}

	_ [FrameSs - unsafe.Offsetof(TrapFrame{}.Ss)]struct{}
	_ [unsafe.Offsetof(TrapFrame{}.Ss) - FrameSs]struct{}

	_ [unsafe.Sizeof(StubRegs{}) - FrameTrapNo]struct{}
	_ [FrameTrapNo - unsafe.Sizeof(StubRegs{})]struct{}
)

