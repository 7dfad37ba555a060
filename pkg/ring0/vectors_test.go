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

import "testing"

func TestParseVector(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Vector
	}{
		{"14", PageFault},
		{"0x21", 0x21},
		{"PF", PageFault},
		{"#gp", GeneralProtectionFault},
		{"nmi", NMI},
		{"0xff", 0xff},
		{"#14", PageFault},
		{"#0x30", GenericInterrupt},
	} {
		got, err := ParseVector(tc.in)
		if err != nil {
			t.Errorf("ParseVector(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseVector(%q) = %d, want %d", tc.in, uint8(got), uint8(tc.want))
		}
	}
	for _, in := range []string{"", "256", "-1", "XX", "0x100", "#", "##14"} {
		if _, err := ParseVector(in); err == nil {
			t.Errorf("ParseVector(%q) succeeded, want error", in)
		}
	}
}

func TestVectorString(t *testing.T) {
	for _, tc := range []struct {
		v    Vector
		want string
	}{
		{PageFault, "page fault"},
		{15, "reserved"},
		{SecurityException, "security exception"},
		{0x16, "vector 22"},
		{GenericInterrupt, "device interrupt"},
		{0xff, "vector 255"},
	} {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("Vector(%d).String() = %q, want %q", uint8(tc.v), got, tc.want)
		}
	}
}
