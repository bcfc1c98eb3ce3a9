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

package property

import (
	"strings"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

// ContextFiles is the fixed, ordered set of property_contexts sources
// concatenated into the PropertyInfo trie (§4.4 step 3, legacy fallback
// order: platform before the vendor/product/odm partitions that may
// override it).
var ContextFiles = []string{
	"/system/etc/selinux/plat_property_contexts",
	"/plat_property_contexts",
	"/system_ext/etc/selinux/system_ext_property_contexts",
	"/vendor/etc/selinux/vendor_property_contexts",
	"/vendor_property_contexts",
	"/product/etc/selinux/product_property_contexts",
	"/odm/etc/selinux/odm_property_contexts",
}

// ParsePropertyContexts parses "name[*]  context  type [enum,...]" lines,
// skipping blanks and "#" comments (§6 Property-info files).
func ParsePropertyContexts(data []byte) []domain.PropertyContextLine {
	var lines []domain.PropertyContextLine

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		entry := domain.PropertyContextLine{
			Pattern: fields[0],
			Context: fields[1],
			Type:    domain.TypeString,
		}
		if len(fields) >= 3 {
			entry.Type = domain.PropertyType(fields[2])
		}
		if len(fields) >= 4 {
			entry.Enum = strings.Split(fields[3], ",")
		}
		lines = append(lines, entry)
	}
	return lines
}

// LoadContexts implements §4.4 step 3: parse every ContextFiles entry that
// exists, in order, build the trie, serialize it, and publish the result to
// path -- the on-disk artifact other processes consult via mmap in the
// original design, reproduced here as a plain file (§6 Writable artifact).
func LoadContexts(info domain.PropertyInfoServiceIface, io domain.IOServiceIface, path string) error {
	var all []domain.PropertyContextLine
	for _, f := range ContextFiles {
		data, err := io.ReadFile(f)
		if err != nil {
			continue
		}
		all = append(all, ParsePropertyContexts(data)...)
	}

	if err := info.Load(all); err != nil {
		return err
	}

	blob, err := info.Serialize()
	if err != nil {
		return err
	}
	if err := io.WriteFileAtomic(path, blob, 0644); err != nil {
		return err
	}

	if selinux.GetEnabled() {
		if label, err := selinux.FileLabel(path); err == nil {
			if err := selinux.Chcon(path, label, true); err != nil {
				logrus.Debugf("property: restoring context on %s: %v", path, err)
			}
		}
	}
	return nil
}
