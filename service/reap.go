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
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

// Reaper tracks live service pids and drains them on SIGCHLD, grounded on
// the zombie-reaping idiom of a signal channel plus a mutex-guarded index
// feeding a syscall.Wait4(-1, &wstatus, WNOHANG, nil) drain loop (§5
// Supervisor thread: "Reaping is driven by SIGCHLD on this thread").
type Reaper struct {
	mu    sync.RWMutex
	byPid map[uint32]domain.ServiceIface

	sigCh chan os.Signal
	done  chan struct{}
}

func NewReaper() *Reaper {
	return &Reaper{
		byPid: make(map[uint32]domain.ServiceIface),
		sigCh: make(chan os.Signal, 1),
		done:  make(chan struct{}),
	}
}

func (r *Reaper) Track(pid uint32, svc domain.ServiceIface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPid[pid] = svc
}

func (r *Reaper) Untrack(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPid, pid)
}

func (r *Reaper) Lookup(pid uint32) (domain.ServiceIface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.byPid[pid]
	return svc, ok
}

// Run blocks, reaping children until Stop is called. Intended to run on
// the supervisor's dedicated main-loop goroutine.
func (r *Reaper) Run() {
	signal.Notify(r.sigCh, syscall.SIGCHLD)
	defer signal.Stop(r.sigCh)

	for {
		select {
		case <-r.done:
			return
		case <-r.sigCh:
			r.drain()
		}
	}
}

func (r *Reaper) Stop() {
	close(r.done)
}

func (r *Reaper) drain() {
	for {
		var wstatus syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &wstatus, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		svc, ok := r.Lookup(uint32(pid))
		if !ok {
			logrus.Debugf("service: reaped untracked pid %d", pid)
			continue
		}
		r.Untrack(uint32(pid))

		if err := svc.Reap(newWaitStatus(wstatus)); err != nil {
			logrus.Warnf("service: Reap(%s) failed: %v", svc.Name(), err)
		}
	}
}
