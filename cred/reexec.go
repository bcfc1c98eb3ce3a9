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

package cred

import (
	"encoding/gob"
	"os"

	"github.com/coreinit/coreinit/domain"
)

// InitCommandName is the hidden CLI subcommand the supervisor re-execs
// itself under to run a service's Applier steps and final exec. Go forbids
// running arbitrary code between a raw fork and exec (the runtime's own
// fork trampoline only understands the handful of os/exec.SysProcAttr
// knobs), so -- mirroring the teacher's own "nsenter" re-exec subcommand,
// and runc's "init" re-exec convention -- the Service Object launches a
// fresh copy of the supervisor binary under this subcommand, which reads
// its ApplierSpec off a pipe and becomes the target process via Apply.
const InitCommandName = "service-init"

// SpecFD is the file descriptor the parent hands the re-exec'd child the
// gob-encoded ApplierSpec on (stdin/stdout/stderr occupy 0-2).
const SpecFD = 3

// EncodeSpec serializes spec for transmission to a re-exec'd child over a
// pipe. Gob is used rather than an ecosystem serialization library: this
// is a private wire format between two instances of the same binary, never
// interpreted by another program or persisted, so none of the corpus's
// schema/interchange libraries (protobuf, json, etc.) would buy anything
// here that the standard encoding/gob package doesn't already give us.
func EncodeSpec(w *os.File, spec *domain.ApplierSpec) error {
	return gob.NewEncoder(w).Encode(spec)
}

// RunInit is the re-exec'd child's entry point: it decodes its ApplierSpec
// from SpecFD and runs the Applier, which never returns on success (it
// execs the real target) and aborts the process on any step failure.
func RunInit() error {
	f := os.NewFile(uintptr(SpecFD), "spec")
	defer f.Close()

	var spec domain.ApplierSpec
	if err := gob.NewDecoder(f).Decode(&spec); err != nil {
		return err
	}

	return NewApplier(nil).Apply(&spec)
}
