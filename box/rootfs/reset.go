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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/imachug/sunwalker-box/box/sysutil"
)

// Reset restores the confined root to the pristine state captured by
// Create, without rebuilding it. It is idempotent: calling it any number
// of times consecutively, including as the very first call after Create,
// must succeed and converge on the same mount set.
func (r *Rootfs) Reset(state *State, quotas DiskQuotas) error {
	if err := r.unmountResidue(state); err != nil {
		return err
	}
	if err := r.mountSpace(quotas); err != nil {
		return err
	}
	if err := r.rebindEphemeral(); err != nil {
		return err
	}
	return r.reclaimPseudoterminals()
}

// unmountResidue removes every mount under the root that the baseline
// does not account for. The procfs subtree is excluded: the kernel tears
// it down lazily and eager unmounts there are unsafe. /dev/mqueue is
// always preserved.
func (r *Rootfs) unmountResidue(state *State) error {
	remaining := make(map[string]int, len(state.MountPoints))
	for path, count := range state.MountPoints {
		remaining[path] = count
	}

	current, err := childMounts(r.root + "/")
	if err != nil {
		return err
	}
	procRoot := filepath.Join(r.root, "proc")
	mqueue := filepath.Join(r.root, "dev/mqueue")
	var residue []string
	for _, path := range current {
		if path == procRoot || strings.HasPrefix(path, procRoot+"/") || path == mqueue {
			continue
		}
		if remaining[path] == 0 {
			residue = append(residue, path)
		} else {
			// An expected pre-existing mount, not sandbox-run residue.
			remaining[path]--
		}
	}

	// Unmount in reverse discovery order: the table lists parents before
	// children, and a parent cannot be unmounted while a child mount
	// still exists beneath it.
	for i := len(residue) - 1; i >= 0; i-- {
		logrus.Debugf("Unmounting residue %q", residue[i])
		if err := sysutil.Unmount(residue[i], 0); err != nil {
			return err
		}
	}
	return nil
}

// mountSpace mounts a fresh, empty, quota-bounded tmpfs at the ephemeral
// storage mount point, owned by the internal user identity.
func (r *Rootfs) mountSpace(quotas DiskQuotas) error {
	space := filepath.Join(r.root, "space")
	data := fmt.Sprintf("size=%d,nr_inodes=%d", quotas.Space, quotas.MaxInodes)
	if err := sysutil.Mount("none", space, "tmpfs", unix.MS_NOSUID, data); err != nil {
		return err
	}
	if err := os.Chown(space, r.user.UID, r.user.GID); err != nil {
		return fmt.Errorf("chown %q: %w", space, err)
	}
	return nil
}

// rebindEphemeral rebuilds the quota-backed originals for shared memory
// and temp beneath the space filesystem and bind-mounts them onto their
// public targets.
func (r *Rootfs) rebindEphemeral() error {
	space := filepath.Join(r.root, "space")
	for _, m := range []struct {
		target, orig string
	}{
		{filepath.Join(r.root, "dev/shm"), filepath.Join(space, ".shm")},
		{filepath.Join(r.root, "tmp"), filepath.Join(space, ".tmp")},
	} {
		if err := os.Mkdir(m.orig, 0755); err != nil {
			return fmt.Errorf("creating directory %q: %w", m.orig, err)
		}
		if err := os.Chown(m.orig, r.admin.UID, r.admin.GID); err != nil {
			return fmt.Errorf("chown %q: %w", m.orig, err)
		}
		// Sticky and world-writable, conventional temp-directory
		// semantics.
		if err := unix.Chmod(m.orig, 0o1777); err != nil {
			return fmt.Errorf("chmod %q: %w", m.orig, err)
		}
		// EINVAL means the target is not currently a mountpoint, which
		// is the expected state the first time the root is reset.
		if err := unix.Unmount(m.target, 0); err != nil && !errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("umount(%q, 0): %w", m.target, err)
		}
		if err := sysutil.BindMount(m.orig, m.target); err != nil {
			return err
		}
	}
	return nil
}

// reclaimPseudoterminals deletes every numerically named entry in the
// pseudo-terminal device directory. devpts allocates terminal IDs with a
// sequential, non-cyclic allocator that always issues the lowest free
// number, so deleting everything resets future allocation without any
// explicit counter.
func (r *Rootfs) reclaimPseudoterminals() error {
	pts := filepath.Join(r.root, "dev/pts")
	entries, err := os.ReadDir(pts)
	if err != nil {
		return fmt.Errorf("reading %q: %w", pts, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if _, err := strconv.ParseUint(name, 10, 64); err != nil {
			continue
		}
		path := filepath.Join(pts, name)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %q: %w", path, err)
		}
	}
	return nil
}
