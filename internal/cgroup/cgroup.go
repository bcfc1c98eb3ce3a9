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

// Package cgroup creates and tears down the per-service process cgroup
// the Service Object (C2) attaches a started child to, and applies the
// optional memory controls from §3 Resource / §4.2 Start.
package cgroup

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

const root = "/sys/fs/cgroup/coreinit"

// Manager creates and removes one cgroup directory per started service.
type Manager struct {
	totalRAM int64 // bytes; used to resolve LimitPercent
}

func NewManager(totalRAMBytes int64) *Manager {
	return &Manager{totalRAM: totalRAMBytes}
}

// path returns this service's cgroup directory, named "<name>-<uid>-<pid>"
// so restarts of the same service never collide with a not-yet-removed
// predecessor.
func (m *Manager) path(name string, uid uint32, pid uint32) string {
	return filepath.Join(root, fmt.Sprintf("%s-%d-%d", name, uid, pid))
}

// Create makes the service's cgroup and attaches pid to it (§4.2 Start:
// "Create process-cgroup for (uid, pid)"). Failure here is logged but is
// not fatal to the service per §7.
func (m *Manager) Create(name string, uid uint32, pid uint32) (string, error) {
	dir := m.path(name, uid, pid)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(strconv.Itoa(int(pid))), 0644); err != nil {
		return "", err
	}
	return dir, nil
}

// ApplyMemory writes the optional swappiness/soft-limit/limit knobs. When
// LimitPercent is set it is multiplied against total RAM with saturating
// arithmetic (never overflows into a negative/huge byte count) and
// LimitPropertyName, if resolved by the caller into limitOverride, takes
// priority over both Limit and LimitPercent.
func (m *Manager) ApplyMemory(dir string, mc MemoryControl, limitOverride string) {
	if mc.Swappiness != nil {
		writeIntFile(dir, "memory.swappiness", *mc.Swappiness)
	}
	if mc.SoftLimitBytes != nil {
		writeIntFile(dir, "memory.soft_limit_in_bytes", *mc.SoftLimitBytes)
	}

	limit := resolvedLimit(mc, m.totalRAM, limitOverride)
	if limit > 0 {
		writeIntFile(dir, "memory.limit_in_bytes", limit)
	}
}

// MemoryControl mirrors domain.MemoryControl; duplicated here (rather than
// imported) to keep this package syscall/domain-free and independently
// testable -- callers translate on the way in.
type MemoryControl struct {
	Swappiness     *int64
	SoftLimitBytes *int64
	LimitBytes     *int64
	LimitPercent   *int64
}

func resolvedLimit(mc MemoryControl, totalRAM int64, override string) int64 {
	if override != "" {
		if v, err := units.RAMInBytes(override); err == nil {
			return v
		}
		logrus.Warnf("cgroup: limit_property_name value %q not parseable as a size", override)
	}
	if mc.LimitPercent != nil {
		pct := *mc.LimitPercent
		if pct <= 0 {
			return 0
		}
		if pct > 100 {
			pct = 100 // saturate instead of overshooting total RAM
		}
		// Saturating multiply: a totalRAM*pct product that would overflow
		// int64 is clamped to math.MaxInt64 before dividing by 100.
		if totalRAM > math.MaxInt64/pct {
			return math.MaxInt64 / 100
		}
		return totalRAM * pct / 100
	}
	if mc.LimitBytes != nil {
		return *mc.LimitBytes
	}
	return 0
}

func writeIntFile(dir, file string, v int64) {
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0644); err != nil {
		logrus.Warnf("cgroup: write %s failed: %v", path, err)
	}
}

// Remove deletes the service's cgroup directory once the kernel has
// emptied it (first successful reap, §5 Shared resources).
func Remove(dir string) error {
	return os.Remove(dir)
}
