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

// Package sysutil wraps the mount and namespace primitives used to build
// and recycle the sandbox root. Every wrapper returns an error that
// carries the failing operation and path, so callers can propagate it
// without re-wrapping.
package sysutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mount calls mount(2) with the given arguments.
func Mount(src, dst, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(src, dst, fstype, flags, data); err != nil {
		return fmt.Errorf("mount(%q, %q, %q, %#x, %q): %w", src, dst, fstype, flags, data, err)
	}
	return nil
}

// BindMount bind-mounts src onto dst without copying data.
func BindMount(src, dst string) error {
	return BindMountFlags(src, dst, 0)
}

// BindMountFlags bind-mounts src onto dst with extra flags, e.g. MS_REC
// for a recursive bind or MS_REMOUNT to change options on an existing
// bind mount.
func BindMountFlags(src, dst string, flags uintptr) error {
	return Mount(src, dst, "", unix.MS_BIND|flags, "")
}

// RemountReadOnly makes an existing mount at dst read-only. A bind mount
// cannot be established read-only in one mount(2) call on many kernels,
// so this is issued as a second, separate remount.
func RemountReadOnly(dst string) error {
	return BindMountFlags("none", dst, unix.MS_REMOUNT|unix.MS_RDONLY)
}

// MountProc mounts a new procfs instance at dst. The instance reflects
// the pid namespace of the calling process, so this must run after the
// sandbox's pid namespace has been created.
func MountProc(dst string) error {
	return Mount("proc", dst, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
}

// Unmount calls umount2(2) on path with the given flags.
func Unmount(path string, flags int) error {
	if err := unix.Unmount(path, flags); err != nil {
		return fmt.Errorf("umount(%q, %#x): %w", path, flags, err)
	}
	return nil
}

// UnshareMountNamespace moves the calling process into a new, private
// copy of its mount namespace. Mutations made afterwards are invisible
// to the original namespace.
func UnshareMountNamespace() error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("unshare(CLONE_NEWNS): %w", err)
	}
	return nil
}

// SetPropagation changes the mount propagation type of path, e.g. to
// MS_PRIVATE so that later unmounts do not propagate to peers.
func SetPropagation(path string, flags uintptr) error {
	if err := unix.Mount("", path, "", flags, ""); err != nil {
		return fmt.Errorf("changing propagation of %q to %#x: %w", path, flags, err)
	}
	return nil
}
