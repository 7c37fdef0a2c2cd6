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

// Package cmd holds implementations of the sunwalker-box commands. Each
// command is one operation the external orchestrator drives: create,
// configure, enter, reset, resolve.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/imachug/sunwalker-box/box/config"
	"github.com/imachug/sunwalker-box/box/rootfs"
)

// Globals carries the options shared by all commands. It is passed to
// each command through the subcommand arguments.
type Globals struct {
	// RootDir is the directory holding instance metadata.
	RootDir string

	// Policy is the external quota and identity policy.
	Policy config.Config
}

// Rootfs builds the rootfs engine for the configured policy.
func (g *Globals) Rootfs() *rootfs.Rootfs {
	user, admin := g.Policy.Identities()
	return rootfs.New(rootfs.Config{
		InternalUser:  user,
		InternalAdmin: admin,
	})
}

// Fatalf logs a fatal error and exits. Errors here are fatal to the
// sandbox instance; the orchestrator decides whether to rebuild it.
func Fatalf(format string, args ...any) {
	logrus.Errorf(format, args...)
	// Exit with a distinctive code so the failure is not confused with
	// the sandboxed program's own exit status.
	os.Exit(128)
}
