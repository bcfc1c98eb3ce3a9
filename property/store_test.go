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

package property

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/sysio"
)

func newTestStore(t *testing.T) (domain.PropertyStoreIface, domain.IOServiceIface) {
	t.Helper()
	io := sysio.NewIOService(sysio.MemFs)
	return NewStore(io, "/data/property"), io
}

func TestSetGet(t *testing.T) {
	s, _ := newTestStore(t)

	require.Equal(t, domain.SetSuccess, s.Set("debug.foo", "bar"))
	v, ok := s.Get("debug.foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestSetInvalidName(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Equal(t, domain.SetInvalidName, s.Set("bad name", "x"))
	assert.Equal(t, domain.SetInvalidName, s.Set("", "x"))
}

func TestSetReadOnlyAlready(t *testing.T) {
	s, _ := newTestStore(t)

	require.Equal(t, domain.SetSuccess, s.Set("ro.product.model", "widget"))
	assert.Equal(t, domain.SetReadOnlyAlready, s.Set("ro.product.model", "other"))

	v, _ := s.Get("ro.product.model")
	assert.Equal(t, "widget", v)
}

func TestPersistWritesOnlyAfterPersistentLoaded(t *testing.T) {
	s, io := newTestStore(t)

	require.Equal(t, domain.SetSuccess, s.Set("persist.sys.locale", "en-US"))
	_, err := io.ReadFile("/data/property/persist.sys.locale")
	assert.Error(t, err, "must not persist before SetPersistentLoaded(true)")

	s.SetPersistentLoaded(true)
	require.Equal(t, domain.SetSuccess, s.Set("persist.sys.locale", "fr-FR"))

	data, err := io.ReadFile("/data/property/persist.sys.locale")
	require.NoError(t, err)
	assert.Equal(t, "fr-FR", string(data))
}

func TestOnChangeFiresOnlyWhenAccepting(t *testing.T) {
	s, _ := newTestStore(t)

	var seen []string
	s.OnChange(func(name, value string) { seen = append(seen, name+"="+value) })

	s.Set("debug.a", "1")
	assert.Empty(t, seen)

	s.SetAcceptMessages(true)
	s.Set("debug.b", "2")
	assert.Equal(t, []string{"debug.b=2"}, seen)
}

func TestSetChecksPropertyInfoType(t *testing.T) {
	s, _ := newTestStore(t)
	info := NewInfoService()
	require.NoError(t, info.Load([]domain.PropertyContextLine{
		{Pattern: "ro.boot.flag", Context: "u:object_r:boot_prop:s0", Type: domain.TypeBool},
	}))
	s.Setup(info)

	assert.Equal(t, domain.SetInvalidValue, s.Set("ro.boot.flag", "notabool"))
	assert.Equal(t, domain.SetSuccess, s.Set("ro.boot.flag", "true"))
}
