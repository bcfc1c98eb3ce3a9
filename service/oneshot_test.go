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

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/registry"
)

func TestMakeTemporaryOneshotServiceFull(t *testing.T) {
	reg := registry.NewServiceRegistry()
	argv := []string{"u:r:shell:s0", "2000", "2000", "2001", "2002", "--", "/system/bin/sh", "-c", "ls"}

	svc, err := MakeTemporaryOneshotService(argv, reg, nil, nil, nil, "/bin/coreinit")
	require.NoError(t, err)

	assert.Equal(t, "u:r:shell:s0", svc.cfg.SeLabel)
	assert.Equal(t, uint32(2000), svc.cfg.Uid)
	assert.Equal(t, uint32(2000), svc.cfg.Gid)
	assert.Equal(t, []uint32{2001, 2002}, svc.cfg.SuppGids)
	assert.Equal(t, []string{"/system/bin/sh", "-c", "ls"}, svc.cfg.Argv)
	assert.True(t, svc.flags.Has(domain.FlagOneshot))
	assert.True(t, svc.flags.Has(domain.FlagTemporary))

	found, ok := reg.Find(svc.Name())
	require.True(t, ok)
	assert.Same(t, svc, found)
}

func TestMakeTemporaryOneshotServiceMissingSeparator(t *testing.T) {
	_, err := MakeTemporaryOneshotService([]string{"/bin/true"}, nil, nil, nil, nil, "/bin/coreinit")
	assert.Error(t, err)
}

func TestMakeTemporaryOneshotServiceBareCommand(t *testing.T) {
	svc, err := MakeTemporaryOneshotService([]string{"--", "/bin/true"}, nil, nil, nil, nil, "/bin/coreinit")
	require.NoError(t, err)
	assert.Equal(t, "", svc.cfg.SeLabel)
	assert.Equal(t, []string{"/bin/true"}, svc.cfg.Argv)
}

func TestMakeTemporaryOneshotServiceTooManySuppGids(t *testing.T) {
	header := []string{"-", "0", "0"}
	for i := 0; i <= MaxSuppGids; i++ {
		header = append(header, "1000")
	}
	argv := append(header, "--", "/bin/true")

	_, err := MakeTemporaryOneshotService(argv, nil, nil, nil, nil, "/bin/coreinit")
	assert.Error(t, err)
}
