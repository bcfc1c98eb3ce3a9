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

// NamespaceServiceIface enters or unshares the Linux namespaces requested
// by a service's NamespaceFlags bitset (§4.1 step 3). It is implemented by
// the mount/ package and used by the Credential/Sandbox Applier (C1) in
// the forked child.
type NamespaceServiceIface interface {
	// Unshare detaches the calling process (the freshly forked child) from
	// the namespaces selected by flags (a CLONE_NEW* bitset).
	Unshare(flags uintptr) error

	// MakeMountPrivate marks "/" MS_PRIVATE|MS_REC within the child's own
	// mount namespace once unshared, so mounts the child performs afterwards
	// (e.g. console setup) never leak back to the supervisor.
	MakeMountPrivate() error
}
