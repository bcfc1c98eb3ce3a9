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

package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWritesPidAndCheckDetectsLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coreinit.pid")

	guard, err := Create("coreinit", path)
	require.NoError(t, err)
	require.NotNil(t, guard)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	assert.Error(t, Check("coreinit", path))

	require.NoError(t, guard.Destroy())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCheckSucceedsWhenUnlocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coreinit.pid")
	assert.NoError(t, Check("coreinit", path))
}

func TestDestroyNilGuardIsNoop(t *testing.T) {
	var g *Guard
	assert.NoError(t, g.Destroy())
}
