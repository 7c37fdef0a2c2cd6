// Copyright 2024 The Sunwalker Authors.
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

package rootfs

import (
	"os"
	"testing"
)

func TestPhaseString(t *testing.T) {
	for _, tc := range []struct {
		phase Phase
		want  string
	}{
		{PhaseUnconfigured, "unconfigured"},
		{PhaseConfigured, "configured"},
		{PhaseEntered, "entered"},
		{Phase(42), "unknown(42)"},
	} {
		if got := tc.phase.String(); got != tc.want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(tc.phase), got, tc.want)
		}
	}
}

func TestTokenForPhase(t *testing.T) {
	tok := TokenForPhase(PhaseConfigured)
	if tok.Phase() != PhaseConfigured {
		t.Errorf("token phase = %v, want %v", tok.Phase(), PhaseConfigured)
	}
	if tok.Pid() != os.Getpid() {
		t.Errorf("token pid = %d, want %d", tok.Pid(), os.Getpid())
	}
}

func TestEnterRejectsWrongPhase(t *testing.T) {
	r := testRootfs(t)
	for _, p := range []Phase{PhaseUnconfigured, PhaseEntered} {
		if _, err := r.Enter(TokenForPhase(p)); err == nil {
			t.Errorf("Enter with %v token succeeded, want error", p)
		}
	}
}
