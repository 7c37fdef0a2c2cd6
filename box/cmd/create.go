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
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/imachug/sunwalker-box/box/instance"
)

// Create implements subcommands.Command for the "create" command.
type Create struct {
	image  string
	bundle string
}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "build the confined root for a new sandbox instance"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] <instance id>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Create) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.image, "image", "", "path to the root filesystem image directory")
	f.StringVar(&c.bundle, "bundle", "", "path to an OCI bundle whose config.json names the image")
}

// Execute implements subcommands.Command.Execute. It builds the blended
// root from the image and records the baseline mount snapshot in the
// instance metadata.
func (c *Create) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)
	g := args[0].(*Globals)

	image := c.image
	if image == "" && c.bundle != "" {
		var err error
		image, err = bundleImage(c.bundle)
		if err != nil {
			Fatalf("reading bundle: %v", err)
		}
	}
	if image == "" {
		Fatalf("either -image or -bundle must be set")
	}

	inst, err := instance.New(g.RootDir, id)
	if err != nil {
		Fatalf("creating instance: %v", err)
	}
	state, err := g.Rootfs().Create(image)
	if err != nil {
		Fatalf("creating rootfs: %v", err)
	}
	inst.Baseline = state
	if err := inst.Save(); err != nil {
		Fatalf("saving instance: %v", err)
	}
	return subcommands.ExitSuccess
}

// bundleImage returns the root filesystem path named by an OCI bundle's
// config.json. A relative root path is taken relative to the bundle
// directory.
func bundleImage(bundleDir string) (string, error) {
	configPath := filepath.Join(bundleDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", configPath, err)
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return "", fmt.Errorf("unmarshaling %q: %w", configPath, err)
	}
	if spec.Root == nil || spec.Root.Path == "" {
		return "", fmt.Errorf("bundle %q has no root path", bundleDir)
	}
	if filepath.IsAbs(spec.Root.Path) {
		return spec.Root.Path, nil
	}
	return filepath.Join(bundleDir, spec.Root.Path), nil
}
