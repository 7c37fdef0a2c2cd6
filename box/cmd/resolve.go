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
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// Resolve implements subcommands.Command for the "resolve" command. It
// maps an untrusted path into the confined filesystem and prints the
// result, mainly for orchestrator debugging.
type Resolve struct {
	host bool
}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "resolve a path inside the confined root"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve [flags] <path>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resolve) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.host, "host", false, "resolve against the retained previous root instead")
}

// Execute implements subcommands.Command.Execute.
func (r *Resolve) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	g := args[0].(*Globals)

	rf := g.Rootfs()
	var resolved string
	var err error
	if r.host {
		resolved, err = rf.ResolveHost(f.Arg(0))
	} else {
		resolved, err = rf.ResolveConfined(f.Arg(0))
	}
	if err != nil {
		Fatalf("resolving %q: %v", f.Arg(0), err)
	}
	fmt.Fprintln(os.Stdout, resolved)
	return subcommands.ExitSuccess
}
