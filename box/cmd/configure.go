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

	"github.com/google/subcommands"

	"github.com/imachug/sunwalker-box/box/instance"
	"github.com/imachug/sunwalker-box/box/rootfs"
)

// Configure implements subcommands.Command for the "configure" command.
// It must run in a process that is already inside the sandbox's pid
// namespace.
type Configure struct{}

// Name implements subcommands.Command.Name.
func (*Configure) Name() string {
	return "configure"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Configure) Synopsis() string {
	return "finish isolating an instance from inside its pid namespace"
}

// Usage implements subcommands.Command.Usage.
func (*Configure) Usage() string {
	return `configure <instance id>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Configure) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Configure) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	g := args[0].(*Globals)

	inst, err := instance.Load(g.RootDir, f.Arg(0))
	if err != nil {
		Fatalf("loading instance: %v", err)
	}
	if inst.Phase != rootfs.PhaseUnconfigured {
		Fatalf("instance %q is already %v", inst.ID, inst.Phase)
	}
	if _, err := g.Rootfs().Configure(); err != nil {
		Fatalf("configuring rootfs: %v", err)
	}
	inst.Phase = rootfs.PhaseConfigured
	if err := inst.Save(); err != nil {
		Fatalf("saving instance: %v", err)
	}
	return subcommands.ExitSuccess
}
