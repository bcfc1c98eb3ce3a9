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

package propserver

import (
	"sync"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

// restoreconWorker runs selinux.restorecon_recursive requests on a single
// background goroutine that exits when its queue drains and restarts on
// the next request (§4.4 distinguished names, §5 Async-restorecon worker).
type restoreconWorker struct {
	mu      sync.Mutex
	queue   []string
	running bool
	stopCh  chan struct{}
}

func newRestoreconWorker() *restoreconWorker {
	return &restoreconWorker{stopCh: make(chan struct{})}
}

func (w *restoreconWorker) enqueue(path string, store domain.PropertyStoreIface) {
	w.mu.Lock()
	w.queue = append(w.queue, path)
	alreadyRunning := w.running
	w.running = true
	w.mu.Unlock()

	if !alreadyRunning {
		go w.run(store)
	}
}

func (w *restoreconWorker) run(store domain.PropertyStoreIface) {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		path := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if selinux.GetEnabled() {
			if label, err := selinux.FileLabel(path); err == nil {
				if err := selinux.Chcon(path, label, true); err != nil {
					logrus.Warnf("propserver: restorecon_recursive %q failed: %v", path, err)
					continue
				}
			}
		}
		if store != nil {
			store.Set("selinux.restorecon_recursive", path)
		}
	}
}

func (w *restoreconWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = nil
}
