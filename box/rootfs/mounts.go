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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// mountsPath is the live mount table of the calling process's mount
// namespace.
const mountsPath = "/proc/self/mounts"

// childMounts returns every mount target under prefix, in mount-table
// order. The kernel lists parents before children, and callers depend on
// that ordering to unmount safely.
func childMounts(prefix string) ([]string, error) {
	f, err := os.Open(mountsPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", mountsPath, err)
	}
	defer f.Close()
	return parseMounts(f, prefix)
}

// parseMounts scans mount-table lines per fstab(5): space-separated
// fields, the second being the mount target. A malformed line is an
// error, never silently skipped.
func parseMounts(r io.Reader, prefix string) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, " ")
		if len(fields) < 2 {
			return nil, fmt.Errorf("invalid mount table line %q", line)
		}
		if strings.HasPrefix(fields[1], prefix) {
			targets = append(targets, fields[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	return targets, nil
}
