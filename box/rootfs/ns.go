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
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/imachug/sunwalker-box/box/sysutil"
)

// Phase identifies how far the namespace transition of an instance has
// progressed. Correctness of the transition hinges on which process runs
// which phase in which order, so the phases are modeled explicitly
// rather than left as ambient process state.
type Phase int

const (
	// PhaseUnconfigured is the state right after Create.
	PhaseUnconfigured Phase = iota
	// PhaseConfigured means Configure has run inside the sandbox's pid
	// namespace.
	PhaseConfigured
	// PhaseEntered means the controlling process has moved its root into
	// the sandbox.
	PhaseEntered
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseUnconfigured:
		return "unconfigured"
	case PhaseConfigured:
		return "configured"
	case PhaseEntered:
		return "entered"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Token witnesses a completed transition phase. Each step returns a
// token that the next step consumes, making an out-of-order transition a
// detectable contract violation instead of undefined behavior. The
// issuing pid is carried for diagnostics only; the phase is what gates
// transitions.
type Token struct {
	phase Phase
	pid   int
}

// Phase returns the phase the token witnesses.
func (t Token) Phase() Phase {
	return t.phase
}

// Pid returns the process that completed the phase.
func (t Token) Pid() int {
	return t.pid
}

// TokenForPhase reconstructs a token for an orchestrator that carries
// the phase across processes in durable instance metadata. The caller is
// responsible for the earlier phases having actually run, in the right
// processes.
func TokenForPhase(p Phase) Token {
	return Token{phase: p, pid: os.Getpid()}
}

// Configure finishes isolating the instance from inside the sandbox's
// pid namespace. It mounts a procfs instance at the confined /proc
// (which must happen after pid namespace creation so it reflects the
// sandbox's own view), moves into a private mount namespace so that the
// following unmounts never propagate outward, and detach-unmounts the
// old root. The detach succeeds even while the old root is still
// referenced and the kernel removes it once unreferenced.
//
// Failure is fatal to the instance and never retried.
func (r *Rootfs) Configure() (Token, error) {
	if err := sysutil.MountProc(r.root + "/proc"); err != nil {
		return Token{}, err
	}
	if err := sysutil.UnshareMountNamespace(); err != nil {
		return Token{}, err
	}
	if err := sysutil.SetPropagation(r.oldRoot, unix.MS_PRIVATE); err != nil {
		return Token{}, err
	}
	if err := sysutil.Unmount(r.oldRoot, unix.MNT_DETACH); err != nil {
		return Token{}, err
	}
	logrus.Debugf("Rootfs %q configured, old root %q detached", r.root, r.oldRoot)
	return Token{phase: PhaseConfigured, pid: os.Getpid()}, nil
}

// Enter moves the controlling process into the confined root. It must
// run before the sandboxed program executes, and only after Configure.
//
// A full pivot_root is deliberately not used. The chroot is what blocks
// unprivileged user namespace creation inside the sandbox, and that
// block must already be active in the main process before any
// subordinate namespace exists; otherwise a nested mount namespace could
// mount an unbounded tmpfs and bypass the disk quota. Deferring the root
// switch into a child is incompatible with that ordering. Changing root
// without first changing directory would leave the working directory
// outside the jail and allow traversal back out, so both steps are
// mandatory and must not be reordered.
func (r *Rootfs) Enter(t Token) (Token, error) {
	if t.phase != PhaseConfigured {
		return Token{}, fmt.Errorf("enter requires a %v instance, got %v", PhaseConfigured, t.phase)
	}
	if err := sysutil.UnshareMountNamespace(); err != nil {
		return Token{}, err
	}
	if err := os.Chdir(r.root); err != nil {
		return Token{}, fmt.Errorf("chdir to %q: %w", r.root, err)
	}
	if err := unix.Chroot("."); err != nil {
		return Token{}, fmt.Errorf("chroot into %q: %w", r.root, err)
	}
	logrus.Debugf("Entered rootfs %q (configured by pid %d)", r.root, t.pid)
	return Token{phase: PhaseEntered, pid: os.Getpid()}, nil
}
