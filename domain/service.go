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

import (
	"time"
)

// OomScoreAdjUnset is the sentinel meaning "do not write oom_score_adj" (§3).
const OomScoreAdjUnset = -1001

// DescriptorKind distinguishes the descriptor types a service can publish
// into its own environment before exec (§4.1 step 5).
type DescriptorKind int

const (
	DescriptorSocket DescriptorKind = iota
	DescriptorFifo
)

// Descriptor describes one socket or fifo a service wants created and
// published (as an fd plus an environment variable naming it) before exec.
type Descriptor struct {
	Kind     DescriptorKind
	Name     string
	Dir      string
	Type     string // "stream", "dgram", "seqpacket" for sockets
	Perm     uint32
	Uid      uint32
	Gid      uint32
	SeLabel  string
	EnvName  string // environment variable receiving the fd number
}

// MemoryControl holds the optional per-cgroup memory tuning (§3 Resource,
// §4.2 Start).
type MemoryControl struct {
	Swappiness        *int64
	SoftLimitBytes    *int64
	LimitBytes        *int64
	LimitPercent      *int64
	LimitPropertyName string
}

// ServiceConfig is the immutable, parse-time declaration of a service
// (§3 Service, Identity/Launch/Credentials/Resource fields). It is set once
// and never mutated after the Service is created.
type ServiceConfig struct {
	Name       string
	ClassNames []string

	Argv          []string
	Env           map[string]string
	ConsolePath   string
	SeLabel       string
	NamespaceFlags uintptr
	WritePidFiles []string

	Uid          uint32
	Gid          uint32
	SuppGids     []uint32
	Capabilities *uint64 // optional bitset; nil means "not requested"
	Priority     int
	IoprioClass  int
	IoprioPri    int
	OomScoreAdj  int // OomScoreAdjUnset if not configured

	Memory MemoryControl

	Descriptors []Descriptor

	Critical  bool
	Oneshot   bool
	Temporary bool
	Console   bool
	RcDisabled bool

	// PreApexd marks a service started before updatable runtime packages
	// became available (§3 Runtime, "Pre-apexd"). It is a parse-time fact,
	// not runtime state -- once set it is permanent across restarts.
	PreApexd bool
}

// ServiceIface is the C2 Service Object contract (§4.2).
type ServiceIface interface {
	Name() string
	ClassNames() []string
	Config() *ServiceConfig

	Flags() *ServiceFlags

	Pid() uint32
	StartOrder() uint64
	TimeStarted() time.Time
	TimeCrashed() time.Time
	CrashCount() int
	PostData() bool
	SetPostData(bool)
	RunningAtPostDataReset() bool
	SetRunningAtPostDataReset(bool)

	Start() error
	ExecStart() error
	StartIfNotDisabled() error
	Enable() error
	Stop() error
	Reset() error
	Restart() error
	Terminate() error
	Timeout()
	StopOrReset(how StopIntent) error

	// Reap is invoked by the supervisor's SIGCHLD handler once waitpid
	// confirms the child has died; wstatus is the raw wait status.
	Reap(wstatus WaitStatus) error
}

// WaitStatus abstracts syscall.WaitStatus so domain stays syscall-free.
type WaitStatus interface {
	Exited() bool
	ExitStatus() int
	Signaled() bool
	Signal() int
}

// ServiceRegistryIface is C3 (§4.3).
type ServiceRegistryIface interface {
	Add(svc ServiceIface) error
	Find(name string) (ServiceIface, bool)
	All() []ServiceIface
	Remove(name string)

	MarkServicesUpdated()
	ServicesUpdated() bool
	EnqueueDelayed(svc ServiceIface)

	MarkPostData()
	IsPostData() bool

	ResetIfPostData() error
	StartIfPostData() error

	NextStartOrder() uint64

	SetExecServiceRunning(bool)
	IsExecServiceRunning() bool
}
