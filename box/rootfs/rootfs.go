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

// Package rootfs builds an isolated root filesystem for untrusted
// programs and recycles it between runs.
//
// The root is blended once from a source image (Create), the driving
// processes transition into it in two phases (Configure, Enter), and it
// is restored to a pristine, quota-bounded state before every reuse
// (Reset). Untrusted paths are mapped into the root with a resolver that
// never delegates symlink following to the kernel (ResolveConfined,
// ResolveHost).
//
// All operations are synchronous and single-threaded; concurrent sandbox
// instances are isolated from each other by mount namespaces, not by
// locking.
package rootfs

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/imachug/sunwalker-box/box/sysutil"
)

const (
	// DefaultRoot is the fixed mount point of the confined root.
	DefaultRoot = "/newroot"

	// DefaultOldRoot is where the previous root is retained until
	// Configure detaches it.
	DefaultOldRoot = "/oldroot"
)

// reservedDirs are image top-level names that are never cloned from the
// image: the engine provisions its own versions. "sys" is additionally
// never recreated at all, because exposing kernel system information to
// the sandbox is unsafe.
var reservedDirs = []string{"space", "dev", "proc", "tmp", "sys"}

// ephemeralDirs are created empty under the new root. "space" and "tmp"
// deliberately stay unmounted; Reset provisions them on every run.
var ephemeralDirs = []string{"space", "dev", "proc", "tmp"}

// DiskQuotas bounds the ephemeral storage filesystem mounted by Reset.
// It is supplied by an external quota policy and never decided here.
type DiskQuotas struct {
	// Space is the filesystem size in bytes.
	Space uint64
	// MaxInodes is the inode ceiling.
	MaxInodes uint64
}

// Identity is a (uid, gid) pair supplied by an external identity policy.
type Identity struct {
	UID int
	GID int
}

// Config parameterizes a Rootfs. The zero value selects the fixed
// well-known paths.
type Config struct {
	// Root is the confined root mount point. Defaults to DefaultRoot.
	Root string

	// OldRoot is the retained previous root. Defaults to DefaultOldRoot.
	OldRoot string

	// InternalUser is the unprivileged identity that owns the ephemeral
	// storage filesystem. It must be distinct from the identity managing
	// the sandbox.
	InternalUser Identity

	// InternalAdmin is the administrative identity that owns the
	// quota-backed shared-memory and temp directories.
	InternalAdmin Identity
}

// Rootfs drives the confined root of a single sandbox instance.
type Rootfs struct {
	root    string
	oldRoot string
	user    Identity
	admin   Identity
}

// New returns a Rootfs for the given configuration.
func New(conf Config) *Rootfs {
	if conf.Root == "" {
		conf.Root = DefaultRoot
	}
	if conf.OldRoot == "" {
		conf.OldRoot = DefaultOldRoot
	}
	return &Rootfs{
		root:    conf.Root,
		oldRoot: conf.OldRoot,
		user:    conf.InternalUser,
		admin:   conf.InternalAdmin,
	}
}

// Root returns the confined root mount point.
func (r *Rootfs) Root() string {
	return r.root
}

// State is the mount topology that exists immediately after the root is
// built: a multiplicity count per mount target (the same target may
// legitimately be mounted more than once, e.g. bind + remount). It is
// built exactly once by Create, never mutated afterwards, and consulted
// read-only by Reset for the lifetime of the instance.
type State struct {
	MountPoints map[string]int `json:"mountPoints"`
}

// EncodingError reports a filesystem name that is not valid UTF-8. Such
// names are rejected outright: substituting or mangling them could
// silently rename a path the jail depends on.
type EncodingError struct {
	Name string
}

// Error implements error.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("name %q is not valid UTF-8", e.Name)
}

// Create builds the confined root from the top level of the source image
// and returns the baseline mount snapshot.
//
// An overlay filesystem is deliberately not used here: overlayfs does
// not duplicate child mounts nested beneath a lower layer, and mount(2)
// can fail with EINVAL outright when the image carries its own mount
// trees, which real OS images commonly do. Instead the root is built
// from scratch and every top-level image entry is bind-mounted
// individually, with read-only emulated per entry.
//
// There is no rollback on failure; the caller discards the half-built
// root together with the instance.
func (r *Rootfs) Create(image string) (*State, error) {
	logrus.Debugf("Creating rootfs at %q from image %q", r.root, image)

	if err := os.Mkdir(r.root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	entries, err := os.ReadDir(image)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !utf8.ValidString(name) {
			return nil, &EncodingError{Name: name}
		}
		if containsStr(reservedDirs, name) {
			continue
		}
		src := filepath.Join(image, name)
		dst := filepath.Join(r.root, name)

		if entry.Type()&os.ModeSymlink != 0 {
			// Bind-mounting a symlink has undefined semantics; recreate
			// the link itself.
			target, err := os.Readlink(src)
			if err != nil {
				return nil, fmt.Errorf("reading link %q: %w", src, err)
			}
			if err := os.Symlink(target, dst); err != nil {
				return nil, fmt.Errorf("creating symlink %q -> %q: %w", dst, target, err)
			}
			continue
		}

		// Create an empty placeholder of the matching kind, then
		// bind-mount the image entry onto it read-only.
		if entry.Type().IsDir() {
			if err := os.Mkdir(dst, 0755); err != nil {
				return nil, fmt.Errorf("creating directory %q: %w", dst, err)
			}
		} else {
			f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("creating file %q: %w", dst, err)
			}
			f.Close()
		}
		logrus.Debugf("Bind-mounting %q at %q read-only", src, dst)
		if err := sysutil.BindMount(src, dst); err != nil {
			return nil, err
		}
		if err := sysutil.RemountReadOnly(dst); err != nil {
			return nil, err
		}
	}

	for _, name := range ephemeralDirs {
		if err := os.Mkdir(filepath.Join(r.root, name), 0755); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", filepath.Join(r.root, name), err)
		}
	}

	// Devices stay visible, but the device directory metadata must not
	// be writable from inside the sandbox.
	dev := filepath.Join(r.root, "dev")
	if err := sysutil.BindMountFlags("/dev", dev, unix.MS_REC); err != nil {
		return nil, err
	}
	if err := sysutil.RemountReadOnly(dev); err != nil {
		return nil, err
	}

	// Snapshot the mounts under the new root so that Reset can restore
	// exactly this topology later.
	state := &State{MountPoints: make(map[string]int)}
	mounts, err := childMounts(r.root + "/")
	if err != nil {
		return nil, err
	}
	for _, path := range mounts {
		state.MountPoints[path]++
	}
	logrus.Debugf("Rootfs baseline has %d mounts", len(mounts))
	return state, nil
}

// containsStr returns true if 'str' is inside 'strs'.
func containsStr(strs []string, str string) bool {
	for _, s := range strs {
		if s == str {
			return true
		}
	}
	return false
}
