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

package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func int64p(v int64) *int64 { return &v }

func TestResolvedLimitPercent(t *testing.T) {
	mc := MemoryControl{LimitPercent: int64p(25)}
	assert.Equal(t, int64(256*1024*1024), resolvedLimit(mc, 1024*1024*1024, ""))
}

func TestResolvedLimitPercentSaturatesAt100(t *testing.T) {
	mc := MemoryControl{LimitPercent: int64p(500)}
	assert.Equal(t, int64(1024*1024*1024), resolvedLimit(mc, 1024*1024*1024, ""))
}

func TestResolvedLimitPercentNonPositiveIsZero(t *testing.T) {
	mc := MemoryControl{LimitPercent: int64p(0)}
	assert.Equal(t, int64(0), resolvedLimit(mc, 1024*1024*1024, ""))
}

func TestResolvedLimitBytesFallback(t *testing.T) {
	mc := MemoryControl{LimitBytes: int64p(12345)}
	assert.Equal(t, int64(12345), resolvedLimit(mc, 1024*1024*1024, ""))
}

func TestResolvedLimitOverrideTakesPriority(t *testing.T) {
	mc := MemoryControl{LimitBytes: int64p(12345), LimitPercent: int64p(50)}
	assert.Equal(t, int64(128*1024*1024), resolvedLimit(mc, 1024*1024*1024, "128m"))
}

func TestResolvedLimitUnset(t *testing.T) {
	assert.Equal(t, int64(0), resolvedLimit(MemoryControl{}, 1024*1024*1024, ""))
}

func TestPathNamesByServiceUidPid(t *testing.T) {
	m := NewManager(0)
	assert.Equal(t, "/sys/fs/cgroup/coreinit/zygote-0-55", m.path("zygote", 0, 55))
}
