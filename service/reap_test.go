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

	"github.com/coreinit/coreinit/domain"
)

func TestReaperTrackUntrackLookup(t *testing.T) {
	r := NewReaper()
	svc := newTestService(domain.ServiceConfig{Name: "tracked"})

	r.Track(100, svc)
	found, ok := r.Lookup(100)
	assert.True(t, ok)
	assert.Same(t, svc, found)

	r.Untrack(100)
	_, ok = r.Lookup(100)
	assert.False(t, ok)
}

func TestReaperLookupMiss(t *testing.T) {
	r := NewReaper()
	_, ok := r.Lookup(12345)
	assert.False(t, ok)
}
