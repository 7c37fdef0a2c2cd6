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

package cmd

import (
	"context"
	"flag"
	"time"

	"github.com/google/subcommands"

	"github.com/imachug/sunwalker-box/box/instance"
	"github.com/imachug/sunwalker-box/box/rootfs"
)

// Enter implements subcommands.Command for the "enter" command. It runs
// in the controlling process, after the configure step has landed.
type Enter struct {
	wait time.Duration
}

// Name implements subcommands.Command.Name.
func (*Enter) Name() string {
	return "enter"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Enter) Synopsis() string {
	return "move the calling process's root into the sandbox"
}

// Usage implements subcommands.Command.Usage.
func (*Enter) Usage() string {
	return `enter [flags] <instance id>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Enter) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&e.wait, "wait", 10*time.Second, "how long to wait for the configure step to land")
}

// Execute implements subcommands.Command.Execute.
func (e *Enter) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)
	g := args[0].(*Globals)

	// Configure runs in a different process context; wait for its phase
	// change to reach the metadata.
	if err := instance.WaitForPhase(g.RootDir, id, rootfs.PhaseConfigured, e.wait); err != nil {
		Fatalf("waiting for configure: %v", err)
	}
	inst, err := instance.Load(g.RootDir, id)
	if err != nil {
		Fatalf("loading instance: %v", err)
	}
	if inst.Phase != rootfs.PhaseConfigured {
		Fatalf("instance %q is %v", inst.ID, inst.Phase)
	}

	// The metadata lives outside the confined root and its path becomes
	// unreachable after the chroot, so keep an open descriptor to it and
	// record the phase through that, only once the enter has succeeded.
	commit, err := inst.PrepareSave()
	if err != nil {
		Fatalf("preparing instance save: %v", err)
	}
	if _, err := g.Rootfs().Enter(rootfs.TokenForPhase(rootfs.PhaseConfigured)); err != nil {
		Fatalf("entering rootfs: %v", err)
	}
	inst.Phase = rootfs.PhaseEntered
	if err := commit(); err != nil {
		Fatalf("saving instance: %v", err)
	}
	return subcommands.ExitSuccess
}
