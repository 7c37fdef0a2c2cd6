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
	"strings"
	"testing"
)

func testRootfs(t *testing.T) *Rootfs {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "newroot")
	oldRoot := filepath.Join(dir, "oldroot")
	for _, d := range []string{root, filepath.Join(root, "space"), oldRoot} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %q: %v", d, err)
		}
	}
	return New(Config{Root: root, OldRoot: oldRoot})
}

func TestResolveConfined(t *testing.T) {
	r := testRootfs(t)
	for _, tc := range []struct {
		name string
		path string
		want string
	}{
		{name: "relative", path: "hello.txt", want: r.root + "/space/hello.txt"},
		{name: "absolute", path: "/bin/sh", want: r.root + "/bin/sh"},
		{name: "dot segments", path: "./a/./b", want: r.root + "/space/a/b"},
		{name: "parent", path: "../etc/passwd", want: r.root + "/etc/passwd"},
		{name: "parent escape", path: strings.Repeat("../", 40) + "etc/passwd", want: r.root + "/etc/passwd"},
		{name: "absolute escape", path: "/../../..", want: r.root},
		{name: "empty", path: "", want: r.root + "/space"},
		{name: "trailing slash", path: "/bin/", want: r.root + "/bin"},
		{name: "double slash", path: "//bin//sh", want: r.root + "/bin/sh"},
		{name: "interior double slash", path: "a//b", want: r.root + "/space/a/b"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.ResolveConfined(tc.path)
			if err != nil {
				t.Fatalf("ResolveConfined(%q): %v", tc.path, err)
			}
			if got != tc.want {
				t.Errorf("ResolveConfined(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestResolveConfinedStaysInRoot(t *testing.T) {
	r := testRootfs(t)
	for n := 0; n < 64; n++ {
		path := strings.Repeat("../", n) + "x"
		got, err := r.ResolveConfined(path)
		if err != nil {
			t.Fatalf("ResolveConfined(%q): %v", path, err)
		}
		if !strings.HasPrefix(got, r.root) {
			t.Fatalf("ResolveConfined(%q) = %q escaped root %q", path, got, r.root)
		}
	}
}

func TestResolveHost(t *testing.T) {
	r := testRootfs(t)
	for _, tc := range []struct {
		path string
		want string
	}{
		{path: "x", want: r.oldRoot + "/x"},
		{path: "/a/b", want: r.oldRoot + "/a/b"},
		{path: "../../x", want: r.oldRoot + "/x"},
	} {
		got, err := r.ResolveHost(tc.path)
		if err != nil {
			t.Fatalf("ResolveHost(%q): %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("ResolveHost(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestResolveSymlinks(t *testing.T) {
	r := testRootfs(t)

	// An absolute link target restarts at the declared root, never at
	// the live filesystem root.
	if err := os.Symlink("/target", filepath.Join(r.root, "abs")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	got, err := r.ResolveConfined("/abs")
	if err != nil {
		t.Fatalf("ResolveConfined(/abs): %v", err)
	}
	if want := r.root + "/target"; got != want {
		t.Errorf("ResolveConfined(/abs) = %q, want %q", got, want)
	}

	// A relative link target is resolved in place of the link.
	if err := os.Symlink("../data", filepath.Join(r.root, "space/rel")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	got, err = r.ResolveConfined("rel")
	if err != nil {
		t.Fatalf("ResolveConfined(rel): %v", err)
	}
	if want := r.root + "/data"; got != want {
		t.Errorf("ResolveConfined(rel) = %q, want %q", got, want)
	}

	// Resolution continues past a symlinked directory.
	if err := os.Symlink("/d", filepath.Join(r.root, "l1")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	got, err = r.ResolveConfined("/l1/f")
	if err != nil {
		t.Fatalf("ResolveConfined(/l1/f): %v", err)
	}
	if want := r.root + "/d/f"; got != want {
		t.Errorf("ResolveConfined(/l1/f) = %q, want %q", got, want)
	}

	// A link planted to escape via the parent directory stays clamped.
	if err := os.Symlink("../../../../..", filepath.Join(r.root, "up")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	got, err = r.ResolveConfined("/up/etc")
	if err != nil {
		t.Fatalf("ResolveConfined(/up/etc): %v", err)
	}
	if want := r.root + "/etc"; got != want {
		t.Errorf("ResolveConfined(/up/etc) = %q, want %q", got, want)
	}
}

// linkChain creates a chain of n symlinks under the root, link0 through
// link<n-1>, ending at a plain (nonexistent) name.
func linkChain(t *testing.T, root string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		target := fmt.Sprintf("/link%d", i+1)
		if i == n-1 {
			target = "/end"
		}
		if err := os.Symlink(target, filepath.Join(root, fmt.Sprintf("link%d", i))); err != nil {
			t.Fatalf("symlink: %v", err)
		}
	}
}

func TestResolveSymlinkChainDepth(t *testing.T) {
	t.Run("255 links resolve", func(t *testing.T) {
		r := testRootfs(t)
		linkChain(t, r.root, 255)
		got, err := r.ResolveConfined("/link0")
		if err != nil {
			t.Fatalf("ResolveConfined(/link0): %v", err)
		}
		if want := r.root + "/end"; got != want {
			t.Errorf("ResolveConfined(/link0) = %q, want %q", got, want)
		}
	})
	t.Run("256 links fail", func(t *testing.T) {
		r := testRootfs(t)
		linkChain(t, r.root, 256)
		if _, err := r.ResolveConfined("/link0"); !errors.Is(err, ErrSymlinkLoop) {
			t.Errorf("ResolveConfined(/link0) = %v, want %v", err, ErrSymlinkLoop)
		}
	})
	t.Run("cycle fails", func(t *testing.T) {
		r := testRootfs(t)
		if err := os.Symlink("/b", filepath.Join(r.root, "a")); err != nil {
			t.Fatalf("symlink: %v", err)
		}
		if err := os.Symlink("/a", filepath.Join(r.root, "b")); err != nil {
			t.Fatalf("symlink: %v", err)
		}
		if _, err := r.ResolveConfined("/a"); !errors.Is(err, ErrSymlinkLoop) {
			t.Errorf("ResolveConfined(/a) = %v, want %v", err, ErrSymlinkLoop)
		}
	})
}

func TestResolveRejectsNonUTF8(t *testing.T) {
	r := testRootfs(t)
	var encErr *EncodingError
	if _, err := r.ResolveConfined("\xff\xfe"); !errors.As(err, &encErr) {
		t.Errorf("ResolveConfined(non-UTF8) = %v, want *EncodingError", err)
	}
	if _, err := r.ResolveHost("\xff\xfe"); !errors.As(err, &encErr) {
		t.Errorf("ResolveHost(non-UTF8) = %v, want *EncodingError", err)
	}
}
