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

// Package registry implements the Service Registry (C3): a name-keyed map
// of Service objects guarded by a single RWMutex, grounded on the teacher's
// containerStateService (an idTable map[string]*container behind
// sync.RWMutex with a Setup()-injected back-reference).
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

type serviceRegistry struct {
	sync.RWMutex

	services map[string]domain.ServiceIface
	delayed  []domain.ServiceIface

	servicesUpdated bool
	postData        bool
	execRunning     bool

	startOrder uint64
}

// NewServiceRegistry builds an empty C3 registry.
func NewServiceRegistry() domain.ServiceRegistryIface {
	return &serviceRegistry{
		services: make(map[string]domain.ServiceIface),
	}
}

func (r *serviceRegistry) Add(svc domain.ServiceIface) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.services[svc.Name()]; ok {
		return domain.NewError(domain.ErrAlreadyExists, "Add", nil)
	}
	r.services[svc.Name()] = svc
	return nil
}

func (r *serviceRegistry) Find(name string) (domain.ServiceIface, bool) {
	r.RLock()
	defer r.RUnlock()

	svc, ok := r.services[name]
	return svc, ok
}

func (r *serviceRegistry) All() []domain.ServiceIface {
	r.RLock()
	defer r.RUnlock()

	out := make([]domain.ServiceIface, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out
}

func (r *serviceRegistry) Remove(name string) {
	r.Lock()
	defer r.Unlock()

	delete(r.services, name)
}

// MarkServicesUpdated flips the services-updated bit and drains the
// delayed-services queue, Start()ing everything an updatable service's
// premature Start had enqueued instead of launched (§4.3).
func (r *serviceRegistry) MarkServicesUpdated() {
	r.Lock()
	r.servicesUpdated = true
	pending := r.delayed
	r.delayed = nil
	r.Unlock()

	for _, svc := range pending {
		if err := svc.Start(); err != nil {
			logrus.Warnf("registry: delayed start of %q failed: %v", svc.Name(), err)
		}
	}
}

func (r *serviceRegistry) ServicesUpdated() bool {
	r.RLock()
	defer r.RUnlock()
	return r.servicesUpdated
}

func (r *serviceRegistry) EnqueueDelayed(svc domain.ServiceIface) {
	r.Lock()
	defer r.Unlock()
	r.delayed = append(r.delayed, svc)
}

func (r *serviceRegistry) MarkPostData() {
	r.Lock()
	defer r.Unlock()
	r.postData = true
}

func (r *serviceRegistry) IsPostData() bool {
	r.RLock()
	defer r.RUnlock()
	return r.postData
}

// ResetIfPostData snapshots running state and resets every post_data
// service, so a later StartIfPostData brings back only those that were
// actually running (§4.3).
func (r *serviceRegistry) ResetIfPostData() error {
	for _, svc := range r.All() {
		if !svc.PostData() {
			continue
		}
		svc.SetRunningAtPostDataReset(svc.Flags().Has(domain.FlagRunning))
		if err := svc.StopOrReset(domain.StopReset); err != nil {
			logrus.Warnf("registry: reset of %q failed: %v", svc.Name(), err)
		}
	}
	return nil
}

func (r *serviceRegistry) StartIfPostData() error {
	for _, svc := range r.All() {
		if svc.PostData() && svc.RunningAtPostDataReset() {
			if err := svc.Start(); err != nil {
				logrus.Warnf("registry: post-data start of %q failed: %v", svc.Name(), err)
			}
		}
	}
	return nil
}

func (r *serviceRegistry) NextStartOrder() uint64 {
	r.Lock()
	defer r.Unlock()
	r.startOrder++
	return r.startOrder
}

func (r *serviceRegistry) SetExecServiceRunning(v bool) {
	r.Lock()
	defer r.Unlock()
	r.execRunning = v
}

func (r *serviceRegistry) IsExecServiceRunning() bool {
	r.RLock()
	defer r.RUnlock()
	return r.execRunning
}
