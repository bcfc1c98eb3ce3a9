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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

func TestCreateDescriptorFifo(t *testing.T) {
	dir := t.TempDir()
	d := domain.Descriptor{
		Kind: domain.DescriptorFifo,
		Name: "ctl",
		Dir:  dir,
		Perm: 0660,
		Uid:  uint32(os.Getuid()),
		Gid:  uint32(os.Getgid()),
	}

	fd, err := createDescriptor(d)
	require.NoError(t, err)
	defer unix.Close(fd)
	assert.Greater(t, fd, -1)

	info, err := os.Stat(filepath.Join(dir, "ctl"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeNamedPipe != 0)
}

func TestCreateDescriptorStreamSocket(t *testing.T) {
	dir := t.TempDir()
	d := domain.Descriptor{
		Kind: domain.DescriptorSocket,
		Name: "svc",
		Dir:  dir,
		Type: "stream",
		Perm: 0666,
		Uid:  uint32(os.Getuid()),
		Gid:  uint32(os.Getgid()),
	}

	fd, err := createDescriptor(d)
	require.NoError(t, err)
	defer unix.Close(fd)
	assert.Greater(t, fd, -1)

	_, err = os.Stat(filepath.Join(dir, "svc"))
	require.NoError(t, err)
}

func TestPublishDescriptorsSetsEnv(t *testing.T) {
	dir := t.TempDir()
	descriptors := []domain.Descriptor{{
		Kind:    domain.DescriptorFifo,
		Name:    "pipe",
		Dir:     dir,
		Perm:    0660,
		Uid:     uint32(os.Getuid()),
		Gid:     uint32(os.Getgid()),
		EnvName: "PIPE_FD",
	}}

	defer os.Unsetenv("PIPE_FD")
	require.NoError(t, publishDescriptors(descriptors))
	assert.NotEmpty(t, os.Getenv("PIPE_FD"))
}
