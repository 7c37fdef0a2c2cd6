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

// Package instance tracks sandbox instances across the processes that
// drive them.
//
// The namespace transition runs its phases in different process
// contexts, so the instance phase and the rootfs baseline are persisted
// as a metadata file under a root directory, one subdirectory per
// instance. All mutations happen under a file lock.
package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/imachug/sunwalker-box/box/rootfs"
)

const (
	// metadataFilename is the name of the metadata file relative to the
	// instance directory that holds the baseline snapshot and phase.
	metadataFilename = "meta.json"

	// metadataLockFilename is the name of a lock file in the instance
	// directory that is used to prevent concurrent modifications to the
	// instance metadata.
	metadataLockFilename = "meta.lock"
)

// idRegexp bounds instance ids to path- and log-safe names.
var idRegexp = regexp.MustCompile(`^[\w+\-\.]+$`)

// validateID validates the instance id.
func validateID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid instance id: %q", id)
	}
	return nil
}

// Instance is the durable record of one sandbox instance.
//
// Instances must write their metadata file after any change to their
// state. The entire instance directory is deleted when the instance is
// destroyed.
type Instance struct {
	// ID is the instance id.
	ID string `json:"id"`

	// RootDir is the directory containing the instance metadata
	// directory.
	RootDir string `json:"-"`

	// CreatedAt is the time the instance was created.
	CreatedAt time.Time `json:"createdAt"`

	// Phase is how far the namespace transition has progressed.
	Phase rootfs.Phase `json:"phase"`

	// Baseline is the mount snapshot taken when the rootfs was built.
	// It is set once and then consulted read-only on every reset.
	Baseline *rootfs.State `json:"baseline,omitempty"`
}

// New creates a new instance record in rootDir. It returns an error if
// an instance with the same id already exists.
func New(rootDir, id string) (*Instance, error) {
	logrus.Debugf("Creating instance %q in %q", id, rootDir)
	if err := validateID(id); err != nil {
		return nil, err
	}
	unlock, err := lockMetadata(filepath.Join(rootDir, id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	metaPath := filepath.Join(rootDir, id, metadataFilename)
	if _, err := os.Stat(metaPath); err == nil {
		return nil, fmt.Errorf("instance %q already exists", id)
	}
	i := &Instance{
		ID:        id,
		RootDir:   rootDir,
		CreatedAt: time.Now(),
		Phase:     rootfs.PhaseUnconfigured,
	}
	if err := i.save(); err != nil {
		return nil, err
	}
	return i, nil
}

// Load loads the instance with the given id from its metadata file.
func Load(rootDir, id string) (*Instance, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	metaPath := filepath.Join(rootDir, id, metadataFilename)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("loading instance %q: %w", id, err)
	}
	i := &Instance{}
	if err := json.Unmarshal(data, i); err != nil {
		return nil, fmt.Errorf("unmarshaling instance %q metadata: %w", id, err)
	}
	i.RootDir = rootDir
	return i, nil
}

// Save persists the instance metadata under the metadata lock.
func (i *Instance) Save() error {
	unlock, err := i.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return i.save()
}

// save writes the metadata file. The caller must hold the metadata lock.
func (i *Instance) save() error {
	meta, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("marshaling instance %q metadata: %w", i.ID, err)
	}
	metaPath := filepath.Join(i.RootDir, i.ID, metadataFilename)
	if err := os.WriteFile(metaPath, meta, 0644); err != nil {
		return fmt.Errorf("writing instance %q metadata: %w", i.ID, err)
	}
	return nil
}

// PrepareSave opens the metadata file and returns a commit function
// that persists the instance state through the retained descriptor. It
// lets a caller record a state change after an operation that makes the
// metadata path unreachable, such as a chroot: the descriptor and the
// metadata lock are held from the prepare until the commit.
func (i *Instance) PrepareSave() (func() error, error) {
	unlock, err := i.lock()
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(i.RootDir, i.ID, metadataFilename)
	f, err := os.OpenFile(metaPath, os.O_WRONLY, 0644)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("opening instance %q metadata: %w", i.ID, err)
	}
	commit := func() error {
		defer f.Close()
		defer unlock()
		meta, err := json.Marshal(i)
		if err != nil {
			return fmt.Errorf("marshaling instance %q metadata: %w", i.ID, err)
		}
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncating instance %q metadata: %w", i.ID, err)
		}
		if _, err := f.WriteAt(meta, 0); err != nil {
			return fmt.Errorf("writing instance %q metadata: %w", i.ID, err)
		}
		return nil
	}
	return commit, nil
}

// Destroy removes the instance directory and everything in it.
func (i *Instance) Destroy() error {
	logrus.Debugf("Destroying instance %q", i.ID)
	if err := os.RemoveAll(filepath.Join(i.RootDir, i.ID)); err != nil {
		return fmt.Errorf("destroying instance %q: %w", i.ID, err)
	}
	return nil
}

// lock takes a file lock on the instance metadata lock file.
func (i *Instance) lock() (func() error, error) {
	return lockMetadata(filepath.Join(i.RootDir, i.ID))
}

// lockMetadata takes a file lock on the metadata lock file in the given
// instance directory.
func lockMetadata(instanceDir string) (func() error, error) {
	if err := os.MkdirAll(instanceDir, 0711); err != nil {
		return nil, fmt.Errorf("creating instance directory %q: %w", instanceDir, err)
	}
	f := filepath.Join(instanceDir, metadataLockFilename)
	l := flock.New(f)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring lock on %q: %w", f, err)
	}
	return l.Unlock, nil
}

// WaitForPhase polls the instance metadata until the namespace
// transition reaches at least the given phase. It lets a controlling
// process wait for the configure step, which runs in a different process
// context, to land.
func WaitForPhase(rootDir, id string, phase rootfs.Phase, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	op := func() error {
		i, err := Load(rootDir, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if i.Phase < phase {
			return fmt.Errorf("instance %q is %v, waiting for %v", id, i.Phase, phase)
		}
		return nil
	}
	return backoff.Retry(op, b)
}
