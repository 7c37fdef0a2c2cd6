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
	"os"
	"path/filepath"
	"testing"
)

func writeBundle(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0644); err != nil {
		t.Fatalf("writing config.json: %v", err)
	}
	return dir
}

func TestBundleImage(t *testing.T) {
	t.Run("relative root", func(t *testing.T) {
		dir := writeBundle(t, `{"ociVersion": "1.0.0", "root": {"path": "rootfs"}}`)
		got, err := bundleImage(dir)
		if err != nil {
			t.Fatalf("bundleImage: %v", err)
		}
		if want := filepath.Join(dir, "rootfs"); got != want {
			t.Errorf("bundleImage = %q, want %q", got, want)
		}
	})
	t.Run("absolute root", func(t *testing.T) {
		dir := writeBundle(t, `{"ociVersion": "1.0.0", "root": {"path": "/images/alpine"}}`)
		got, err := bundleImage(dir)
		if err != nil {
			t.Fatalf("bundleImage: %v", err)
		}
		if want := "/images/alpine"; got != want {
			t.Errorf("bundleImage = %q, want %q", got, want)
		}
	})
	t.Run("missing root", func(t *testing.T) {
		dir := writeBundle(t, `{"ociVersion": "1.0.0"}`)
		if _, err := bundleImage(dir); err == nil {
			t.Error("bundleImage succeeded, want error")
		}
	})
	t.Run("missing config", func(t *testing.T) {
		if _, err := bundleImage(t.TempDir()); err == nil {
			t.Error("bundleImage succeeded, want error")
		}
	})
	t.Run("malformed config", func(t *testing.T) {
		dir := writeBundle(t, `{`)
		if _, err := bundleImage(dir); err == nil {
			t.Error("bundleImage succeeded, want error")
		}
	})
}
