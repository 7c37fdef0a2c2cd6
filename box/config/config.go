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

// Package config loads the external policy inputs of the sandbox: the
// disk quotas applied on every reset and the two fixed internal
// identities. The engine consumes these values and never decides them.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/imachug/sunwalker-box/box/rootfs"
)

// Identity is a (uid, gid) pair.
type Identity struct {
	UID int `toml:"uid"`
	GID int `toml:"gid"`
}

// Config is the external policy configuration.
type Config struct {
	// Space is the ephemeral storage size in bytes.
	Space uint64 `toml:"space"`

	// MaxInodes is the ephemeral storage inode ceiling.
	MaxInodes uint64 `toml:"max_inodes"`

	// InternalUser is the unprivileged identity owning ephemeral
	// storage. It must be distinct from the identity managing the
	// sandbox.
	InternalUser Identity `toml:"internal_user"`

	// InternalAdmin is the administrative identity owning the
	// quota-backed shared-memory and temp directories.
	InternalAdmin Identity `toml:"internal_admin"`
}

// Default returns the default policy: 100 MiB / 1000 inodes of ephemeral
// storage, owned by nobody, with root-owned temp originals.
func Default() Config {
	return Config{
		Space:         100 << 20,
		MaxInodes:     1000,
		InternalUser:  Identity{UID: 65534, GID: 65534},
		InternalAdmin: Identity{UID: 0, GID: 0},
	}
}

// Load reads a policy file, applying defaults for absent keys.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("loading config %q: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Space == 0 {
		return fmt.Errorf("space must be positive")
	}
	if c.MaxInodes == 0 {
		return fmt.Errorf("max_inodes must be positive")
	}
	if c.InternalUser == c.InternalAdmin {
		return fmt.Errorf("internal_user and internal_admin must be distinct")
	}
	return nil
}

// Quotas returns the disk quotas consumed by reset.
func (c Config) Quotas() rootfs.DiskQuotas {
	return rootfs.DiskQuotas{Space: c.Space, MaxInodes: c.MaxInodes}
}

// Identities returns the internal user and administrative identities.
func (c Config) Identities() (user, admin rootfs.Identity) {
	user = rootfs.Identity{UID: c.InternalUser.UID, GID: c.InternalUser.GID}
	admin = rootfs.Identity{UID: c.InternalAdmin.UID, GID: c.InternalAdmin.GID}
	return user, admin
}
