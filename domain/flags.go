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

package domain

import "github.com/willf/bitset"

// ServiceFlag indexes a single bit in a Service's flag set (§3, §9). The
// set is intentionally non-disjoint: e.g. a service can be RUNNING and
// DISABLED simultaneously between Stop() and the SIGCHLD that reaps it.
type ServiceFlag uint

const (
	FlagDisabled ServiceFlag = iota
	FlagRcDisabled
	FlagOneshot
	FlagRunning
	FlagRestarting
	FlagConsole
	FlagCritical
	FlagReset
	FlagRestart
	FlagDisabledStart
	FlagTemporary
	FlagExec
	FlagPreApexd
	FlagCgroupEmpty
	flagCount
)

// ServiceFlags is a small wrapper around bitset.BitSet giving the Service
// flag bits names instead of raw indices.
type ServiceFlags struct {
	bits *bitset.BitSet
}

func NewServiceFlags() *ServiceFlags {
	return &ServiceFlags{bits: bitset.New(uint(flagCount))}
}

func (f *ServiceFlags) Set(flag ServiceFlag) *ServiceFlags {
	f.bits.Set(uint(flag))
	return f
}

func (f *ServiceFlags) Clear(flag ServiceFlag) *ServiceFlags {
	f.bits.Clear(uint(flag))
	return f
}

func (f *ServiceFlags) Has(flag ServiceFlag) bool {
	return f.bits.Test(uint(flag))
}

func (f *ServiceFlags) SetTo(flag ServiceFlag, v bool) *ServiceFlags {
	if v {
		return f.Set(flag)
	}
	return f.Clear(flag)
}

// Clone returns an independent copy, used by tests to snapshot state
// before/after a transition (§8 idempotence properties).
func (f *ServiceFlags) Clone() *ServiceFlags {
	n := NewServiceFlags()
	n.bits = f.bits.Clone()
	return n
}

func (f *ServiceFlags) Equal(o *ServiceFlags) bool {
	return f.bits.Equal(o.bits)
}

func (f *ServiceFlags) String() string {
	names := map[ServiceFlag]string{
		FlagDisabled:      "DISABLED",
		FlagRcDisabled:    "RC_DISABLED",
		FlagOneshot:       "ONESHOT",
		FlagRunning:       "RUNNING",
		FlagRestarting:    "RESTARTING",
		FlagConsole:       "CONSOLE",
		FlagCritical:      "CRITICAL",
		FlagReset:         "RESET",
		FlagRestart:       "RESTART",
		FlagDisabledStart: "DISABLED_START",
		FlagTemporary:     "TEMPORARY",
		FlagExec:          "EXEC",
		FlagPreApexd:      "PRE_APEXD",
		FlagCgroupEmpty:   "CGROUP_EMPTY",
	}
	out := ""
	for flag := ServiceFlag(0); flag < flagCount; flag++ {
		if f.Has(flag) {
			if out != "" {
				out += "|"
			}
			out += names[flag]
		}
	}
	if out == "" {
		return "-"
	}
	return out
}

// StopIntent is the "how" parameter of StopOrReset (§4.2).
type StopIntent int

const (
	StopDisabled StopIntent = iota
	StopReset
	StopRestart
)
