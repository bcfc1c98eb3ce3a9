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

package domain

// ProcessServiceIface looks up small bits of /proc/<pid> info needed
// outside of the supervisor's own bookkeeping -- e.g. the Property
// Server logs the cmdline of whoever wrote sys.powerctl (§4.4).
type ProcessServiceIface interface {
	Cmdline(pid int32) (string, error)
	Exists(pid int32) bool
}
