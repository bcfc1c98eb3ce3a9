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
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

// publishDescriptors creates each requested socket or fifo, chowns/chmods
// it to the computed credentials, and exports its fd number under EnvName
// so the child can pick it up (§4.1 step 5).
func publishDescriptors(descriptors []domain.Descriptor) error {
	for _, d := range descriptors {
		fd, err := createDescriptor(d)
		if err != nil {
			return fmt.Errorf("descriptor %q: %w", d.Name, err)
		}
		if err := os.Setenv(d.EnvName, strconv.Itoa(fd)); err != nil {
			return err
		}
	}
	return nil
}

func createDescriptor(d domain.Descriptor) (int, error) {
	path := filepath.Join(d.Dir, d.Name)

	switch d.Kind {
	case domain.DescriptorFifo:
		_ = os.Remove(path)
		if err := unix.Mkfifo(path, d.Perm); err != nil {
			return -1, err
		}
		if err := os.Chown(path, int(d.Uid), int(d.Gid)); err != nil {
			return -1, err
		}
		if err := setDescriptorLabel(path, d.SeLabel); err != nil {
			return -1, err
		}
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
		if err != nil {
			return -1, err
		}
		return fd, nil

	case domain.DescriptorSocket:
		_ = os.Remove(path)

		if d.Type == "dgram" {
			conn, err := net.ListenPacket("unixgram", path)
			if err != nil {
				return -1, err
			}
			if err := os.Chmod(path, os.FileMode(d.Perm)); err != nil {
				return -1, err
			}
			if err := os.Chown(path, int(d.Uid), int(d.Gid)); err != nil {
				return -1, err
			}
			if err := setDescriptorLabel(path, d.SeLabel); err != nil {
				return -1, err
			}
			f, err := conn.(*net.UnixConn).File()
			if err != nil {
				return -1, err
			}
			return int(f.Fd()), nil
		}

		network := "unixpacket"
		if d.Type == "stream" {
			network = "unix"
		}
		l, err := net.Listen(network, path)
		if err != nil {
			return -1, err
		}
		if err := os.Chmod(path, os.FileMode(d.Perm)); err != nil {
			return -1, err
		}
		if err := os.Chown(path, int(d.Uid), int(d.Gid)); err != nil {
			return -1, err
		}
		if err := setDescriptorLabel(path, d.SeLabel); err != nil {
			return -1, err
		}
		f, err := l.(*net.UnixListener).File()
		if err != nil {
			return -1, err
		}
		return int(f.Fd()), nil

	default:
		return -1, fmt.Errorf("unknown descriptor kind %v", d.Kind)
	}
}

// setDescriptorLabel applies the computed security context to a just-created
// socket or fifo path (§4.1 step 5, "with the computed security context").
// An empty label or a disabled SELinux means nothing to do.
func setDescriptorLabel(path, label string) error {
	if label == "" || !selinux.GetEnabled() {
		return nil
	}
	return selinux.SetFileLabel(path, label)
}
