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
	"syscall"

	"github.com/coreinit/coreinit/domain"
)

// waitStatus adapts syscall.WaitStatus to domain.WaitStatus so domain stays
// free of the syscall import.
type waitStatus struct {
	syscall.WaitStatus
}

func newWaitStatus(ws syscall.WaitStatus) domain.WaitStatus {
	return waitStatus{ws}
}

func (w waitStatus) Signal() int { return int(w.WaitStatus.Signal()) }
