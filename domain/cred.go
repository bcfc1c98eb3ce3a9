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

// NStype identifies a Linux namespace kind a service may be asked to enter
// or unshare (subset referenced by §4.1 step 3).
type NStype string

const (
	NsMount NStype = "mnt"
	NsNet   NStype = "net"
	NsPid   NStype = "pid"
	NsUts   NStype = "uts"
	NsIpc   NStype = "ipc"
)

// ApplierSpec is everything the Credential/Sandbox Applier (C1) needs to
// transform the freshly forked child into the configured service identity.
// It is a flattened view of ServiceConfig plus the computed security label,
// built by the Service Object right before forking.
type ApplierSpec struct {
	Uid          uint32
	Gid          uint32
	SuppGids     []uint32
	Capabilities *uint64

	Priority    int
	IoprioClass int
	IoprioPri   int

	NamespaceFlags uintptr

	Env []string // "NAME=value" pairs to export in the child

	// Properties is a snapshot of the property store at fork time, used to
	// resolve ${name}/${name:-default} references in argv[1:] (step 9). A
	// plain fork() shares the parent's already-loaded property state, so
	// the snapshot need not be re-fetched via IPC.
	Properties map[string]string

	Descriptors []Descriptor

	WritePidFiles []string

	SeLabel string // exec-context label; empty means "don't transition"

	Argv []string // argv[0] is never property-expanded; argv[1:] is

	StopSelf bool // raise SIGSTOP on self before exec (debug entry, §4.1 step 10)
}

// ApplierIface is C1. It runs only in the freshly forked child; every step
// is fatal on failure and the implementation must never return to the
// caller on error — it aborts or _exit(127)s instead (§4.1, §7).
type ApplierIface interface {
	// Apply performs steps 1-10 of §4.1 in order and then execs argv,
	// replacing the calling process image. A failing step, or a failing
	// exec, exits the process with status 127; no error is ever handed
	// back to the caller.
	Apply(spec *ApplierSpec) error
}
