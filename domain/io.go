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

// IOServiceIface is a thin, mockable wrapper around the file-system
// operations the Property Store's persistence layer (C4) needs: atomic
// writes of one file per persist.* key, and reading them back at boot.
// Modeled on the teacher's sysio IOService Setup()-then-use pattern.
type IOServiceIface interface {
	ReadFile(path string) ([]byte, error)
	// WriteFileAtomic writes data to path such that a reader never
	// observes a partially written file (rename-into-place, §6 Writable
	// artifact, §4.4 durable write).
	WriteFileAtomic(path string, data []byte, perm uint32) error
	ReadDir(path string) ([]string, error)
	Remove(path string) error
}
