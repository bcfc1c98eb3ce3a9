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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandOnePlainReference(t *testing.T) {
	props := map[string]string{"ro.boot.mode": "normal"}
	assert.Equal(t, "mode=normal", expandOne("mode=${ro.boot.mode}", props))
}

func TestExpandOneMissingNoDefault(t *testing.T) {
	assert.Equal(t, "mode=", expandOne("mode=${missing.prop}", nil))
}

func TestExpandOneMissingWithDefault(t *testing.T) {
	assert.Equal(t, "mode=safe", expandOne("mode=${missing.prop:-safe}", nil))
}

func TestExpandOnePresentIgnoresDefault(t *testing.T) {
	props := map[string]string{"debug.level": "2"}
	assert.Equal(t, "level=2", expandOne("level=${debug.level:-0}", props))
}

func TestExpandOneUnterminatedLeftLiteral(t *testing.T) {
	assert.Equal(t, "${unterminated", expandOne("${unterminated", nil))
}

func TestExpandArgvSkipsArgv0(t *testing.T) {
	argv := []string{"/bin/sh", "-c", "echo ${greeting:-hi}"}
	out := expandArgv(argv, nil)
	assert.Equal(t, "/bin/sh", out[0])
	assert.Equal(t, "echo hi", out[2])
}

func TestToIntSlice(t *testing.T) {
	got := toIntSlice([]uint32{1, 2, 3})
	assert.Equal(t, []int{1, 2, 3}, got)
}
