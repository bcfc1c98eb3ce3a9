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
	"github.com/coreinit/coreinit/property"
	"github.com/coreinit/coreinit/sysio"
)

func newTestService(cfg domain.ServiceConfig) *Service {
	io := sysio.NewIOService(sysio.MemFs)
	props := property.NewStore(io, "/data/property")
	return New(cfg, nil, props, nil, nil, "/bin/coreinit", nil)
}

func TestStopOrResetDisabled(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo"})
	svc.flags.Set(domain.FlagRestarting).Set(domain.FlagDisabledStart).Set(domain.FlagRestart)

	require.NoError(t, svc.StopOrReset(domain.StopDisabled))

	assert.True(t, svc.flags.Has(domain.FlagDisabled))
	assert.False(t, svc.flags.Has(domain.FlagRestarting))
	assert.False(t, svc.flags.Has(domain.FlagDisabledStart))
	assert.False(t, svc.flags.Has(domain.FlagRestart))
}

func TestStopOrResetRcDisabledGoesDisabled(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", RcDisabled: true})
	svc.flags.Clear(domain.FlagDisabled) // simulate a prior Enable()

	require.NoError(t, svc.StopOrReset(domain.StopReset))

	assert.True(t, svc.flags.Has(domain.FlagDisabled))
	assert.False(t, svc.flags.Has(domain.FlagReset))
}

func TestStopOrResetNormalGoesReset(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo"})

	require.NoError(t, svc.StopOrReset(domain.StopReset))

	assert.True(t, svc.flags.Has(domain.FlagReset))
	assert.False(t, svc.flags.Has(domain.FlagDisabled))
}

func TestStopOrResetRestartClearsDisabledAndReset(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo"})
	svc.flags.Set(domain.FlagDisabled).Set(domain.FlagReset).Set(domain.FlagRestarting).Set(domain.FlagDisabledStart)

	require.NoError(t, svc.StopOrReset(domain.StopRestart))

	assert.False(t, svc.flags.Has(domain.FlagDisabled))
	assert.False(t, svc.flags.Has(domain.FlagReset))
	assert.False(t, svc.flags.Has(domain.FlagRestarting))
	assert.False(t, svc.flags.Has(domain.FlagDisabledStart))
}

func TestReapTemporaryEarlyReturn(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", Temporary: true})
	svc.pid = 4242
	svc.flags.Set(domain.FlagRunning)

	require.NoError(t, svc.Reap(newWaitStatus(0)))

	assert.Equal(t, uint32(0), svc.pid)
	assert.True(t, svc.flags.Has(domain.FlagRunning), "temporary early-return must not clear RUNNING")
}

func TestReapOneshotWithoutRestartDisables(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", Oneshot: true})
	svc.pid = 100
	svc.flags.Set(domain.FlagRunning)

	require.NoError(t, svc.Reap(newWaitStatus(0)))

	assert.True(t, svc.flags.Has(domain.FlagDisabled))
	assert.False(t, svc.flags.Has(domain.FlagRunning))
	assert.Equal(t, uint32(0), svc.pid)
}

func TestReapOneshotWithRestartGoesRestarting(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", Oneshot: true})
	svc.pid = 100
	svc.flags.Set(domain.FlagRunning).Set(domain.FlagRestart)

	require.NoError(t, svc.Reap(newWaitStatus(0)))

	assert.True(t, svc.flags.Has(domain.FlagRestarting))
	assert.False(t, svc.flags.Has(domain.FlagDisabled))
}

func TestApplyCrashPolicyIgnoresNonCriticalNonUpdatable(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo"})
	svc.crashCount = 10
	svc.applyCrashPolicy()
	assert.Equal(t, 10, svc.crashCount, "non-critical, non-updatable services are not subject to crash policy")
}

func TestApplyCrashPolicyUpdatablePublishesFlag(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", ClassNames: []string{"updatable"}})
	svc.bootComplete = func() bool { return true }

	for i := 0; i < maxCrashCount+1; i++ {
		svc.applyCrashPolicy()
	}

	v, ok := svc.props.Get("ro.init.updatable_crashing")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestComputeSeLabelExplicit(t *testing.T) {
	svc := newTestService(domain.ServiceConfig{Name: "foo", SeLabel: "u:r:my_service:s0"})
	label, err := svc.computeSeLabel()
	require.NoError(t, err)
	assert.Equal(t, "u:r:my_service:s0", label)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, splitLines("1\n2\n3\n"))
	assert.Equal(t, []string{"1", "2", "3"}, splitLines("1\n2\n3"))
	assert.Equal(t, []string(nil), splitLines(""))
}
