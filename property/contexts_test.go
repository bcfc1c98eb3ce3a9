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

func TestParsePropertyContexts(t *testing.T) {
	data := []byte(`
# comment
ro.          u:object_r:default_prop:s0
persist.     u:object_r:persist_prop:s0  string
debug.level  u:object_r:debug_prop:s0    enum on,off
`)
	lines := ParsePropertyContexts(data)
	require.Len(t, lines, 3)
	assert.Equal(t, "ro.", lines[0].Pattern)
	assert.Equal(t, "u:object_r:default_prop:s0", lines[0].Context)
	assert.Equal(t, domain.TypeString, lines[0].Type)

	assert.Equal(t, "debug.level", lines[2].Pattern)
	assert.Equal(t, domain.PropertyType("enum"), lines[2].Type)
	assert.Equal(t, []string{"on", "off"}, lines[2].Enum)
}

func TestLoadContextsPublishesSerializedTrie(t *testing.T) {
	io := sysio.NewIOService(sysio.MemFs)
	require.NoError(t, io.WriteFileAtomic("/system/etc/selinux/plat_property_contexts",
		[]byte("ro.  u:object_r:default_prop:s0  string\n"), 0644))

	info := NewInfoService()
	require.NoError(t, LoadContexts(info, io, "/dev/__properties__/property_info"))

	blob, err := io.ReadFile("/dev/__properties__/property_info")
	require.NoError(t, err)
	assert.NotEmpty(t, blob)

	got, ok := info.Lookup("ro.boot.mode")
	require.True(t, ok)
	assert.Equal(t, "u:object_r:default_prop:s0", got.Context)
}
