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

// DumpFrame writes a diagnostic for f to c.
//
// The trap number is printed as recorded, even if it is not a valid
// vector, followed by the error code, the interrupt return frame and then
// every register in frame order.
func DumpFrame(c Console, reason string, f *TrapFrame) {
	c.Printf("\n*** %s ***\n", reason)
	c.Printf("vector: %d (%#x)  error code: %016x\n", f.TrapNo, f.TrapNo, f.ErrorCode)
	c.Printf("RIP: %016x  CS: %016x  RFL: %016x\n", f.Rip, f.Cs, f.Rflags)
	c.Printf("RSP: %016x  SS: %016x\n", f.Rsp, f.Ss)

	words := f.words()
	col := 0
	for i, w := range words {
		switch FrameLayout[i].Offset {
		case FrameTrapNo, FrameErrorCode, FrameRip:
			// The rest of the frame was printed above.
			if col != 0 {
				c.Printf("\n")
			}
			return
		}
		c.Printf("%3s=%016x", FrameLayout[i].Name, *w)
		col++
		if col == 3 {
			c.Printf("\n")
			col = 0
		} else {
			c.Printf(" ")
		}
	}
}
