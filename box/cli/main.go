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

// Package cli is the main entrypoint for sunwalker-box.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/imachug/sunwalker-box/box/cmd"
	"github.com/imachug/sunwalker-box/box/config"
)

var (
	rootDir    = flag.String("root-dir", "/run/sunwalker-box", "directory holding instance metadata")
	configFile = flag.String("config", "", "path to the quota and identity policy file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Create), "")
	subcommands.Register(new(cmd.Configure), "")
	subcommands.Register(new(cmd.Enter), "")
	subcommands.Register(new(cmd.Reset), "")
	subcommands.Register(new(cmd.Resolve), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	policy := config.Default()
	if *configFile != "" {
		var err error
		policy, err = config.Load(*configFile)
		if err != nil {
			cmd.Fatalf("%v", err)
		}
	}
	globals := &cmd.Globals{
		RootDir: *rootDir,
		Policy:  policy,
	}

	os.Exit(int(subcommands.Execute(context.Background(), globals)))
}
