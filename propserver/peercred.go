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

package propserver

import (
	"net"

	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

// capturePeerCredentials reads SO_PEERCRED and the peer's SELinux source
// context once per connection (§4.5).
func capturePeerCredentials(conn *net.UnixConn) (domain.PeerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return domain.PeerCredentials{}, err
	}

	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return domain.PeerCredentials{}, err
	}
	if sockErr != nil {
		return domain.PeerCredentials{}, sockErr
	}

	ctx := ""
	if selinux.GetEnabled() {
		_ = raw.Control(func(fd uintptr) {
			if c, err := selinux.PeerLabel(fd); err == nil {
				ctx = c
			}
		})
	}

	return domain.PeerCredentials{
		Pid:     cred.Pid,
		Uid:     cred.Uid,
		Gid:     cred.Gid,
		Context: ctx,
	}, nil
}
