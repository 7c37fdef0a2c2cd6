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
)

// Reset implements subcommands.Command for the "reset" command. It runs
// before every reuse of an instance.
type Reset struct{}

// Name implements subcommands.Command.Name.
func (*Reset) Name() string {
	return "reset"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Reset) Synopsis() string {
	return "restore an instance's root to pristine, quota-bounded state"
}

// Usage implements subcommands.Command.Usage.
func (*Reset) Usage() string {
	return `reset <instance id>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Reset) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Reset) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	g := args[0].(*Globals)

	inst, err := instance.Load(g.RootDir, f.Arg(0))
	if err != nil {
		Fatalf("loading instance: %v", err)
	}
	if inst.Baseline == nil {
		Fatalf("instance %q has no rootfs baseline", inst.ID)
	}
	if err := g.Rootfs().Reset(inst.Baseline, g.Policy.Quotas()); err != nil {
		Fatalf("resetting rootfs: %v", err)
	}
	return subcommands.ExitSuccess
}
