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

// Package mount implements the namespace-entry half of §4.1 step 3: the
// Credential/Sandbox Applier unshares the subset of mount/network/pid/uts/ipc
// namespaces a service's NamespaceFlags select, in the freshly forked child,
// before exec.
package mount

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

type namespaceService struct{}

func NewNamespaceService() domain.NamespaceServiceIface {
	return &namespaceService{}
}

// Unshare detaches the calling process from the namespaces selected by
// flags. Called only in the forked child (never the supervisor), so a
// failure here is always fatal to that child per §4.1/§7.
func (n *namespaceService) Unshare(flags uintptr) error {
	if flags == 0 {
		return nil
	}
	if err := unix.Unshare(int(flags)); err != nil {
		return domain.NewError(domain.ErrIO, "Unshare", err)
	}
	return nil
}

// MakeMountPrivate marks "/" MS_PRIVATE|MS_REC in the child's own mount
// namespace once unshared, so any mount the child performs before exec
// (e.g. opening its console) never propagates back to the supervisor's
// mount namespace or to siblings.
func (n *namespaceService) MakeMountPrivate() error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		logrus.Debugf("mount: could not make / private: %v", err)
		return domain.NewError(domain.ErrIO, "MakeMountPrivate", err)
	}
	return nil
}

// CloneFlagsFor translates the requested namespace subset into the
// CLONE_NEW* bitset clone(2)/unshare(2) expect.
func CloneFlagsFor(ns ...domain.NStype) uintptr {
	var flags uintptr
	for _, t := range ns {
		switch t {
		case domain.NsMount:
			flags |= unix.CLONE_NEWNS
		case domain.NsNet:
			flags |= unix.CLONE_NEWNET
		case domain.NsPid:
			flags |= unix.CLONE_NEWPID
		case domain.NsUts:
			flags |= unix.CLONE_NEWUTS
		case domain.NsIpc:
			flags |= unix.CLONE_NEWIPC
		}
	}
	return flags
}
