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

	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

// BootFiles is the fixed, ordered list of *.prop sources consulted at boot
// (§4.4 step 7, §6 Persisted files): later files override earlier ones
// regardless of ro. prefix, since write-once enforcement only applies to
// the live store, not this local merge pass.
var BootFiles = []string{
	"/system/etc/prop.default",
	"/prop.default",
	"/default.prop",
	"/system/build.prop",
	"/system_ext/build.prop",
	"/vendor/default.prop",
	"/vendor/build.prop",
	"/odm/etc/build.prop",
	"/odm/default.prop",
	"/odm/build.prop",
	"/product/build.prop",
	"/factory/factory.prop",
}

// LoadBootProperties implements §4.4 step 7: parse every BootFiles entry
// that exists into one merged map (later files win), then commit the
// result to the store with a single pass of Set calls. factory.prop is
// filtered to ro.* only, per §6.
func LoadBootProperties(s domain.PropertyStoreIface, io domain.IOServiceIface) {
	merged := make(map[string]string)

	for _, path := range BootFiles {
		data, err := io.ReadFile(path)
		if err != nil {
			continue
		}
		filterRoOnly := strings.HasSuffix(path, "factory.prop")
		for k, v := range parsePropLines(string(data), io) {
			if filterRoOnly && !strings.HasPrefix(k, "ro.") {
				continue
			}
			merged[k] = v
		}
	}

	for k, v := range merged {
		if r := s.Set(k, v); r != domain.SetSuccess && r != domain.SetReadOnlyAlready {
			logrus.Debugf("property: boot load %q=%q: %v", k, v, r)
		}
	}
}

// parsePropLines parses "key=value" lines, "#" comments, and
// "import <file> [filter]" directives (filter "prefix.*" is a prefix
// match, otherwise exact), expanding ${name} references in the import
// path against what has been parsed so far.
func parsePropLines(content string, io domain.IOServiceIface) map[string]string {
	out := make(map[string]string)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "import ") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			path := expandAgainst(fields[1], out)
			data, err := io.ReadFile(path)
			if err != nil {
				continue
			}
			imported := parsePropLines(string(data), io)
			if len(fields) >= 3 {
				filter := fields[2]
				prefix := strings.TrimSuffix(filter, "*")
				for k, v := range imported {
					if strings.HasSuffix(filter, "*") {
						if strings.HasPrefix(k, prefix) {
							out[k] = v
						}
					} else if k == filter {
						out[k] = v
					}
				}
			} else {
				for k, v := range imported {
					out[k] = v
				}
			}
			continue
		}

		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return out
}

func expandAgainst(s string, values map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end == -1 {
				b.WriteByte(s[i])
				i++
				continue
			}
			end += i + 2
			name := s[i+2 : end]
			b.WriteString(values[name])
			i = end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// bootAliasDefault is one ro.boot.<name> -> ro.<name> alias with a default
// used when the boot property is absent (§4.4 step 6).
type bootAliasDefault struct {
	name    string
	byboot  string
	fallback string
}

var fixedBootAliases = []bootAliasDefault{
	{"serialno", "ro.boot.serialno", "unknown"},
	{"bootmode", "ro.boot.bootmode", "unknown"},
	{"baseband", "ro.boot.baseband", "unknown"},
	{"bootloader", "ro.boot.bootloader", "unknown"},
	{"hardware", "ro.boot.hardware", "unknown"},
	{"revision", "ro.boot.revision", "0"},
}

// ExportBootAliases implements §4.4 step 6.
func ExportBootAliases(s domain.PropertyStoreIface) {
	for _, a := range fixedBootAliases {
		v, ok := s.Get(a.byboot)
		if !ok || v == "" {
			v = a.fallback
		}
		s.Set("ro."+a.name, v)
	}
}

// IngestDeviceTree turns each "<key>" file under dtDir into
// ro.boot.<key> = <content, with ',' replaced by '.'> (§4.4 step 4).
func IngestDeviceTree(s domain.PropertyStoreIface, io domain.IOServiceIface, dtDir string) {
	names, err := io.ReadDir(dtDir)
	if err != nil {
		return
	}
	for _, name := range names {
		data, err := io.ReadFile(dtDir + "/" + name)
		if err != nil {
			continue
		}
		value := strings.ReplaceAll(strings.TrimRight(string(data), "\x00\n"), ",", ".")
		s.Set("ro.boot."+name, value)
	}
}

// IngestKernelCmdline parses "androidboot.<name>=<value>" tokens into
// ro.boot.<name>, and -- when a bare "qemu" token is present -- forwards
// every key=value token as ro.kernel.<k> too (§4.4 step 5); tokens
// without '=' are not forwarded.
func IngestKernelCmdline(s domain.PropertyStoreIface, cmdline string) {
	fields := strings.Fields(cmdline)

	isQemu := false
	for _, f := range fields {
		if f == "qemu" {
			isQemu = true
			break
		}
	}

	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		if rest := strings.TrimPrefix(name, "androidboot."); rest != name {
			s.Set("ro.boot."+rest, value)
		}
		if isQemu {
			s.Set("ro.kernel."+name, value)
		}
	}
}

// FingerprintComponents are the eight values ro.build.fingerprint is
// assembled from (§4.4 step 7).
type FingerprintComponents struct {
	Brand, Product, Device, Release, ID, IncrementalVersion string
	Type, Tags                                              string
}

// DeriveFingerprint builds ro.build.fingerprint from its components once
// all ro.product.* sources have been merged.
func DeriveFingerprint(s domain.PropertyStoreIface, c FingerprintComponents) {
	fp := strings.Join([]string{
		c.Brand, "/", c.Product, "/", c.Device, ":", c.Release, "/", c.ID, "/",
		c.IncrementalVersion, ":", c.Type, "/", c.Tags,
	}, "")
	s.Set("ro.build.fingerprint", fp)
}
