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
	"bytes"
	"encoding/gob"
	"strings"
	"sync/atomic"

	radix "github.com/hashicorp/go-immutable-radix"

	"github.com/coreinit/coreinit/domain"
)

// infoService is the PropertyInfo trie: name patterns (possibly "prefix*")
// map to a (context, type) pair, consulted by the server on every Set for
// both authorization and type checking (§3, §6). Lookups take a
// longest-matching-prefix approach over the "*"-stripped pattern so that a
// wildcard entry for "foo." matches any "foo.bar" property, mirroring
// Android's property_contexts semantics. Rebuilds are atomic: Load swaps
// in a brand-new radix tree rather than mutating the live one, the same
// replace-the-whole-tree idiom the corpus's immutable-radix dependency is
// designed around.
type infoService struct {
	tree atomic.Value // *radix.Tree, keys are patterns with trailing "*" stripped
}

func NewInfoService() domain.PropertyInfoServiceIface {
	s := &infoService{}
	s.tree.Store(radix.New())
	return s
}

func (s *infoService) Load(lines []domain.PropertyContextLine) error {
	tree := radix.New()
	for _, line := range lines {
		pattern := strings.TrimSuffix(line.Pattern, "*")
		tree, _, _ = tree.Insert([]byte(pattern), domain.PropertyInfo{
			Context: line.Context,
			Type:    line.Type,
			Enum:    line.Enum,
		})
	}
	s.tree.Store(tree)
	return nil
}

// Lookup returns the info for the longest pattern that prefixes name,
// exact match or wildcard (patterns are stored "*"-stripped, so "foo."
// matches "foo.bar" by ordinary prefix comparison).
func (s *infoService) Lookup(name string) (domain.PropertyInfo, bool) {
	tree := s.tree.Load().(*radix.Tree)

	key := []byte(name)
	var best domain.PropertyInfo
	longest := -1

	tree.Root().WalkPath(key, func(k []byte, v interface{}) bool {
		if len(k) > longest {
			longest = len(k)
			best = v.(domain.PropertyInfo)
		}
		return false
	})

	return best, longest >= 0
}

func (s *infoService) Serialize() ([]byte, error) {
	tree := s.tree.Load().(*radix.Tree)

	entries := make(map[string]domain.PropertyInfo)
	tree.Root().Walk(func(k []byte, v interface{}) bool {
		entries[string(k)] = v.(domain.PropertyInfo)
		return false
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, domain.NewError(domain.ErrIO, "Serialize", err)
	}
	return buf.Bytes(), nil
}
