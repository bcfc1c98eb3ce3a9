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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/property"
	"github.com/coreinit/coreinit/sysio"
)

func TestReadLegacyFrame(t *testing.T) {
	var buf bytes.Buffer
	name := make([]byte, domain.LegacyNameLen)
	copy(name, "debug.foo")
	value := make([]byte, domain.LegacyValueLen)
	copy(value, "bar")
	buf.Write(name)
	buf.Write(value)

	n, v, err := readLegacyFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "debug.foo", n)
	assert.Equal(t, "bar", v)
}

func TestReadFramedStringsRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(domain.MaxStringLen+1))

	_, _, err := readFramedStrings(&buf)
	assert.Error(t, err)
}

func TestDispatchPlainProperty(t *testing.T) {
	io := sysio.NewIOService(sysio.MemFs)
	store := property.NewStore(io, "/data/property")
	info := property.NewInfoService()
	store.Setup(info)

	s := &Server{store: store, info: info}

	code := s.dispatch("debug.foo", "bar", domain.PeerCredentials{Pid: 100}, nil, true)
	assert.Equal(t, domain.ResultSuccess, code)

	v, ok := store.Get("debug.foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestDispatchPowerctlWithNilProcessService(t *testing.T) {
	io := sysio.NewIOService(sysio.MemFs)
	store := property.NewStore(io, "/data/property")
	info := property.NewInfoService()
	store.Setup(info)

	s := &Server{store: store, info: info}
	code := s.dispatch("sys.powerctl", "reboot", domain.PeerCredentials{Pid: 1}, nil, true)
	assert.Equal(t, domain.ResultSuccess, code)
}

func TestDispatchInvalidName(t *testing.T) {
	io := sysio.NewIOService(sysio.MemFs)
	store := property.NewStore(io, "/data/property")
	info := property.NewInfoService()
	store.Setup(info)

	s := &Server{store: store, info: info}
	code := s.dispatch("bad name", "x", domain.PeerCredentials{}, nil, true)
	assert.Equal(t, domain.ResultInvalidName, code)
}
