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
)

func TestTrieExactAndWildcardLookup(t *testing.T) {
	info := NewInfoService()
	require.NoError(t, info.Load([]domain.PropertyContextLine{
		{Pattern: "ro.product.model", Context: "u:object_r:product_prop:s0", Type: domain.TypeString},
		{Pattern: "persist.sys.*", Context: "u:object_r:system_prop:s0", Type: domain.TypeString},
	}))

	entry, ok := info.Lookup("ro.product.model")
	require.True(t, ok)
	assert.Equal(t, "u:object_r:product_prop:s0", entry.Context)

	entry, ok = info.Lookup("persist.sys.locale")
	require.True(t, ok)
	assert.Equal(t, "u:object_r:system_prop:s0", entry.Context)

	_, ok = info.Lookup("completely.unknown")
	assert.False(t, ok)
}

func TestTrieLoadReplacesPreviousTree(t *testing.T) {
	info := NewInfoService()
	require.NoError(t, info.Load([]domain.PropertyContextLine{
		{Pattern: "debug.*", Context: "u:object_r:debug_prop:s0", Type: domain.TypeString},
	}))
	_, ok := info.Lookup("debug.foo")
	require.True(t, ok)

	require.NoError(t, info.Load([]domain.PropertyContextLine{
		{Pattern: "other.*", Context: "u:object_r:other_prop:s0", Type: domain.TypeString},
	}))
	_, ok = info.Lookup("debug.foo")
	assert.False(t, ok, "Load must replace, not merge")
}
