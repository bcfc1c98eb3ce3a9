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

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreinit/coreinit/domain"
)

// fakeService is a minimal domain.ServiceIface double driven entirely by
// its flags, used to exercise registry transitions without a real process.
type fakeService struct {
	name       string
	flags      *domain.ServiceFlags
	postData   bool
	runningAt  bool
	started    int
	stopOrReset []domain.StopIntent
}

func newFakeService(name string) *fakeService {
	return &fakeService{name: name, flags: domain.NewServiceFlags()}
}

func (f *fakeService) Name() string                  { return f.name }
func (f *fakeService) ClassNames() []string           { return nil }
func (f *fakeService) Config() *domain.ServiceConfig  { return &domain.ServiceConfig{Name: f.name} }
func (f *fakeService) Flags() *domain.ServiceFlags     { return f.flags }
func (f *fakeService) Pid() uint32                     { return 0 }
func (f *fakeService) StartOrder() uint64              { return 0 }
func (f *fakeService) TimeStarted() time.Time          { return time.Time{} }
func (f *fakeService) TimeCrashed() time.Time          { return time.Time{} }
func (f *fakeService) CrashCount() int                 { return 0 }
func (f *fakeService) PostData() bool                  { return f.postData }
func (f *fakeService) SetPostData(v bool)              { f.postData = v }
func (f *fakeService) RunningAtPostDataReset() bool    { return f.runningAt }
func (f *fakeService) SetRunningAtPostDataReset(v bool) { f.runningAt = v }
func (f *fakeService) Start() error                    { f.started++; f.flags.Set(domain.FlagRunning); return nil }
func (f *fakeService) ExecStart() error                { return nil }
func (f *fakeService) StartIfNotDisabled() error       { return f.Start() }
func (f *fakeService) Enable() error                   { f.flags.Clear(domain.FlagDisabled); return nil }
func (f *fakeService) Stop() error                     { f.flags.Clear(domain.FlagRunning); return nil }
func (f *fakeService) Reset() error                    { return f.Stop() }
func (f *fakeService) Restart() error                  { return nil }
func (f *fakeService) Terminate() error                { return nil }
func (f *fakeService) Timeout()                        {}
func (f *fakeService) StopOrReset(how domain.StopIntent) error {
	f.stopOrReset = append(f.stopOrReset, how)
	f.flags.Clear(domain.FlagRunning)
	return nil
}
func (f *fakeService) Reap(wstatus domain.WaitStatus) error { return nil }

func TestAddFindRemove(t *testing.T) {
	r := NewServiceRegistry()
	svc := newFakeService("foo")

	require.NoError(t, r.Add(svc))
	assert.Error(t, r.Add(svc))

	found, ok := r.Find("foo")
	require.True(t, ok)
	assert.Same(t, svc, found)

	r.Remove("foo")
	_, ok = r.Find("foo")
	assert.False(t, ok)
}

func TestMarkServicesUpdatedDrainsDelayed(t *testing.T) {
	r := NewServiceRegistry()
	svc := newFakeService("delayed")
	require.NoError(t, r.Add(svc))

	r.EnqueueDelayed(svc)
	assert.False(t, r.ServicesUpdated())

	r.MarkServicesUpdated()
	assert.True(t, r.ServicesUpdated())
	assert.Equal(t, 1, svc.started)
}

func TestResetAndStartIfPostData(t *testing.T) {
	r := NewServiceRegistry()
	running := newFakeService("running")
	running.SetPostData(true)
	running.flags.Set(domain.FlagRunning)

	stopped := newFakeService("stopped")
	stopped.SetPostData(true)

	require.NoError(t, r.Add(running))
	require.NoError(t, r.Add(stopped))

	require.NoError(t, r.ResetIfPostData())
	assert.True(t, running.RunningAtPostDataReset())
	assert.False(t, stopped.RunningAtPostDataReset())
	assert.Equal(t, []domain.StopIntent{domain.StopReset}, running.stopOrReset)

	require.NoError(t, r.StartIfPostData())
	assert.Equal(t, 1, running.started)
	assert.Equal(t, 0, stopped.started)
}

func TestNextStartOrderMonotonic(t *testing.T) {
	r := NewServiceRegistry()
	a := r.NextStartOrder()
	b := r.NextStartOrder()
	assert.Less(t, a, b)
}

func TestExecServiceRunning(t *testing.T) {
	r := NewServiceRegistry()
	assert.False(t, r.IsExecServiceRunning())
	r.SetExecServiceRunning(true)
	assert.True(t, r.IsExecServiceRunning())
}
