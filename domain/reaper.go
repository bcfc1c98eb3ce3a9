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

// PidTrackerIface maps live child pids back to the Service that owns them,
// so the supervisor's SIGCHLD handler can call the right Service.Reap after
// a blocking waitpid confirms a death (§5 Supervisor thread).
type PidTrackerIface interface {
	Track(pid uint32, svc ServiceIface)
	Untrack(pid uint32)
	Lookup(pid uint32) (ServiceIface, bool)
}
