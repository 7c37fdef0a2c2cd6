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
	"bytes"
	"errors"
	"os"
	"strings"
	"unicode/utf8"
)

// maxSymlinkLevel bounds recursive link expansion. A chain of exactly
// this many links resolves; one more, or a cycle, fails with
// ErrSymlinkLoop.
const maxSymlinkLevel = 255

// ErrSymlinkLoop is returned when path resolution follows too many
// levels of symbolic links.
var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// ResolveConfined resolves path to the absolute path the sandboxed
// program would reach, confined to the sandbox root. Relative paths land
// in the writable ephemeral storage directory.
//
// The input may contain ".", "..", absolute markers and symlinks planted
// by untrusted code. Resolution never trusts the kernel's own symlink
// following, which would honor those links relative to the live root and
// could escape confinement; every step is bounded to the declared root
// instead.
func (r *Rootfs) ResolveConfined(path string) (string, error) {
	if !utf8.ValidString(path) {
		return "", &EncodingError{Name: path}
	}
	acc := append([]byte(nil), r.root...)
	acc = append(acc, "/space"...)
	acc, err := resolveAbs(path, r.root, acc, 0)
	if err != nil {
		return "", err
	}
	return string(acc), nil
}

// ResolveHost resolves path against the retained previous root, for
// paths that refer to the pre-switch host filesystem.
func (r *Rootfs) ResolveHost(path string) (string, error) {
	if !utf8.ValidString(path) {
		return "", &EncodingError{Name: path}
	}
	acc := append([]byte(nil), r.oldRoot...)
	acc, err := resolveAbs(path, r.oldRoot, acc, 0)
	if err != nil {
		return "", err
	}
	return string(acc), nil
}

// resolveAbs walks the components of path against a byte accumulator
// seeded at the logical root. The accumulator always keeps root as a
// prefix: a path-initial slash truncates back to it and a parent
// component never pops past it. Interior separator runs produce empty
// components and are swallowed. The accumulator is passed and returned
// by value through each recursive step, so the truncate/extend sequence
// stays unambiguous.
func resolveAbs(path, root string, acc []byte, level int) ([]byte, error) {
	if level > maxSymlinkLevel {
		return nil, ErrSymlinkLoop
	}
	rest := path
	if rest != "" && rest[0] == '/' {
		acc = acc[:len(root)]
		rest = rest[1:]
	}
	for rest != "" {
		var part string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			part, rest = rest[:i], rest[i+1:]
		} else {
			part, rest = rest, ""
		}
		switch part {
		case "", ".":
		case "..":
			if len(acc) > len(root) {
				acc = acc[:bytes.LastIndexByte(acc, '/')]
			}
		default:
			prev := len(acc)
			acc = append(acc, '/')
			acc = append(acc, part...)

			// Readlink inspects the immediate entry without resolving
			// it. If it fails with EINVAL the entry is simply not a
			// symlink; anything worse (e.g. ENOENT) surfaces later,
			// when the resolved path is actually used.
			target, err := os.Readlink(string(acc))
			if err == nil {
				acc = acc[:prev]
				acc, err = resolveAbs(target, root, acc, level+1)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return acc, nil
}
