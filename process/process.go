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

// Package process is a small wrapper over /proc/<pid> lookups, grounded on
// the teacher's process.getStatus() (a bufio.Scanner over
// /proc/<pid>/status) but trimmed to the handful of facts the property
// server needs rather than full credential/namespace introspection.
package process

import (
	"fmt"
	"os"
	"strings"

	"github.com/coreinit/coreinit/domain"
)

type processService struct{}

func NewProcessService() domain.ProcessServiceIface {
	return &processService{}
}

// Cmdline returns the process's argv, joined with spaces the way `ps`
// displays it, read from /proc/<pid>/cmdline (§4.4 sys.powerctl logging).
func (p *processService) Cmdline(pid int32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", domain.NewError(domain.ErrIO, "Cmdline", err)
	}
	fields := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	return strings.Join(fields, " "), nil
}

func (p *processService) Exists(pid int32) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
