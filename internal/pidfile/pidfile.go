//
// Copyright 2024 The coreinit Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package pidfile guards against a second supervisor instance starting
// against the same pid file, the way the teacher's libutils.CheckPidFile /
// CreatePidFile / DestroyPidFile trio does, but built on a real advisory
// file lock (gofrs/flock) instead of a liveness check via kill(pid, 0),
// which races a pid that has already been recycled by the kernel.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// Guard holds the advisory lock for the lifetime of one supervisor run.
type Guard struct {
	lock *flock.Flock
	path string
}

// Check returns an error if another process already holds path's lock,
// mirroring libutils.CheckPidFile's "refuse to start twice" contract
// without trusting a possibly-stale pid number on disk.
func Check(name, path string) error {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("%s: checking pid file %s: %w", name, path, err)
	}
	defer lock.Unlock()
	if !locked {
		return fmt.Errorf("%s: already running (locked pid file %s)", name, path)
	}
	return nil
}

// Create locks path and writes this process's pid into it, returning a
// Guard whose Destroy releases the lock and removes the file.
func Create(name, path string) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%s: creating pid file directory: %w", name, err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%s: locking pid file %s: %w", name, path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: already running (locked pid file %s)", name, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("%s: writing pid file %s: %w", name, path, err)
	}

	return &Guard{lock: lock, path: path}, nil
}

// Destroy releases the lock and removes the pid file.
func (g *Guard) Destroy() error {
	if g == nil {
		return nil
	}
	_ = g.lock.Unlock()
	return os.Remove(g.path)
}
