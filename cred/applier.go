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

// Package cred implements the Credential/Sandbox Applier (C1): the sequence
// of steps a freshly forked service child runs, in order, before exec'ing
// its target binary. Every step here is fatal -- Apply never returns to a
// live parent, it aborts the child on the first failure (§4.1, §7).
//
// The step ordering and the "label before capabilities, groups before uid"
// rule are grounded on the init sequence of runc-style container init code
// (selinux.SetExecLabel before finalizeNamespace's credential switch), and
// the capability get/set idiom mirrors the teacher's process.initCapability/
// setCapability wrapper around a capability.Capabilities handle.
package cred

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/mount"
)

type applier struct {
	ns domain.NamespaceServiceIface
}

// NewApplier builds the C1 Applier. ns performs namespace entry (step 3);
// passing nil uses the real mount.NewNamespaceService().
func NewApplier(ns domain.NamespaceServiceIface) domain.ApplierIface {
	if ns == nil {
		ns = mount.NewNamespaceService()
	}
	return &applier{ns: ns}
}

// fatal aborts the child the way §4.1 requires: every step is fatal and
// the child must never return to continue running with a half-applied
// identity. _exit(127) matches the convention an exec failure itself uses.
func fatal(step string, err error) error {
	logrus.Errorf("cred: child setup step %q failed, aborting: %v", step, err)
	os.Exit(127)
	panic("unreachable")
}

func (a *applier) Apply(spec *domain.ApplierSpec) error {
	// Step 0: reset umask so the explicit Perm passed to Mkfifo/Chmod in
	// descriptor creation (step 5) is never silently clipped by whatever
	// mask the parent happened to be running under.
	syscall.Umask(0)

	// Step 1: keep-caps secure bit, only meaningful when we're about to
	// change uid away from root and caps were explicitly requested.
	if spec.Capabilities != nil && spec.Uid != 0 {
		if err := setKeepCaps(); err != nil {
			return fatal("keep-caps", err)
		}
	}

	// Step 2: ioprio, scheduling priority, groups, uid -- in that order,
	// uid last since it may strip the privilege the earlier calls need.
	if err := setIOPrio(spec.IoprioClass, spec.IoprioPri); err != nil {
		return fatal("ioprio", err)
	}
	if spec.Priority != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, spec.Priority); err != nil {
			return fatal("setpriority", err)
		}
	}
	if len(spec.SuppGids) > 0 {
		if err := unix.Setgroups(toIntSlice(spec.SuppGids)); err != nil {
			return fatal("setgroups", err)
		}
	}
	if spec.Gid != 0 {
		if err := unix.Setresgid(int(spec.Gid), int(spec.Gid), int(spec.Gid)); err != nil {
			return fatal("setgid", err)
		}
	}
	if spec.Uid != 0 {
		if err := unix.Setresuid(int(spec.Uid), int(spec.Uid), int(spec.Uid)); err != nil {
			return fatal("setuid", err)
		}
	}

	// Step 3: namespace entry.
	if err := a.ns.Unshare(spec.NamespaceFlags); err != nil {
		return fatal("unshare", err)
	}
	if spec.NamespaceFlags&unix.CLONE_NEWNS != 0 {
		if err := a.ns.MakeMountPrivate(); err != nil {
			logrus.Warnf("cred: MakeMountPrivate failed: %v", err)
		}
	}

	// Step 4: export declared environment.
	for _, kv := range spec.Env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return fatal("setenv", err)
		}
	}

	// Step 5: create and publish descriptors.
	if err := publishDescriptors(spec.Descriptors); err != nil {
		return fatal("descriptors", err)
	}

	// Step 6: writepid files.
	pid := fmt.Sprintf("%d", os.Getpid())
	for _, path := range spec.WritePidFiles {
		if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
			return fatal("writepid", err)
		}
	}

	// Step 7: exec-context security label.
	if spec.SeLabel != "" {
		if err := selinux.SetExecLabel(spec.SeLabel); err != nil {
			return fatal("selinux-label", err)
		}
	}

	// Step 8: capability set, or inheritable-drop fallback.
	if err := applyCapabilities(spec); err != nil {
		return fatal("capabilities", err)
	}

	// Step 9: property-reference expansion in argv[1:] (argv[0] untouched).
	argv := expandArgv(spec.Argv, spec.Properties)

	// Step 10: optional debug SIGSTOP.
	if spec.StopSelf {
		if err := unix.Kill(os.Getpid(), unix.SIGSTOP); err != nil {
			logrus.Warnf("cred: debug SIGSTOP failed: %v", err)
		}
	}

	// Step 11: exec.
	if err := unix.Exec(argv[0], argv, os.Environ()); err != nil {
		logrus.Errorf("cred: exec %q failed: %v", argv[0], err)
		os.Exit(127)
	}

	return nil
}

func toIntSlice(in []uint32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

// setKeepCaps sets the SECBIT_KEEP_CAPS secure bit so the process retains
// its capability sets across the uid change that follows (step 2), while
// preserving whatever secure bits are already locked.
func setKeepCaps() error {
	current, err := unix.PrctlRetInt(unix.PR_GET_SECUREBITS, 0, 0, 0, 0)
	if err != nil {
		return err
	}
	next := current | (1 << unix.SECBIT_KEEP_CAPS)
	return unix.Prctl(unix.PR_SET_SECUREBITS, uintptr(next), 0, 0, 0)
}

func setIOPrio(class, pri int) error {
	if class == 0 && pri == 0 {
		return nil
	}
	ioprio := (class << 13) | (pri & 0x1fff)
	_, _, errno := syscall.Syscall(unix.SYS_IOPRIO_SET, 1 /* IOPRIO_WHO_PROCESS */, 0, uintptr(ioprio))
	if errno != 0 {
		return errno
	}
	return nil
}

// applyCapabilities sets the requested capability set (effective, permitted,
// inheritable identical), or -- when no explicit set was requested but uid
// changed away from root -- drops the inheritable set, mirroring the
// teacher's cap.NewPid2/Load/Set/Get API surface against the caller's own
// pid rather than a target one.
func applyCapabilities(spec *domain.ApplierSpec) error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return err
	}
	if err := caps.Load(); err != nil {
		return err
	}

	if spec.Capabilities == nil {
		if spec.Uid != 0 {
			caps.Clear(capability.INHERITABLE)
			return caps.Apply(capability.INHERITABLE)
		}
		return nil
	}

	caps.Clear(capability.CAPS)
	for bit := capability.Cap(0); uint(bit) < 64; bit++ {
		if *spec.Capabilities&(1<<uint(bit)) != 0 {
			caps.Set(capability.EFFECTIVE|capability.PERMITTED|capability.INHERITABLE, bit)
		}
	}
	return caps.Apply(capability.CAPS)
}
