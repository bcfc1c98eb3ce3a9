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

// Package property implements the Property Store (C4): an in-memory
// name/value map with write-once ro.* semantics, persist.* durable writes,
// and change notification, plus the PropertyInfo trie (C4's security/type
// side table) built with hashicorp/go-immutable-radix the way the
// teacher's handler package builds its procfs/sysfs dispatch trie.
package property

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/coreinit/coreinit/domain"
)

type store struct {
	mu sync.RWMutex

	values map[string]string
	info   domain.PropertyInfoServiceIface

	onChange []domain.PropertyChangeFunc

	acceptMessages    bool
	persistentLoaded  bool

	io        domain.IOServiceIface
	persistDir string
}

// NewStore builds an empty Property Store. persistDir is where persist.*
// keys are durably written, one file per key (§6 Writable artifact); io
// performs the actual atomic writes (real or in-memory, for tests).
func NewStore(io domain.IOServiceIface, persistDir string) domain.PropertyStoreIface {
	return &store{
		values:     make(map[string]string),
		io:         io,
		persistDir: persistDir,
	}
}

func (s *store) Setup(info domain.PropertyInfoServiceIface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

func (s *store) Set(name, value string) domain.SetResult {
	if !domain.IsLegalPropertyName(name) {
		return domain.SetInvalidName
	}
	if !domain.IsLegalPropertyValue(value) {
		return domain.SetInvalidValue
	}

	s.mu.Lock()

	if strings.HasPrefix(name, "ro.") {
		if _, exists := s.values[name]; exists {
			s.mu.Unlock()
			return domain.SetReadOnlyAlready
		}
	}

	if s.info != nil {
		if info, ok := s.info.Lookup(name); ok {
			if !valueMatchesType(value, info) {
				s.mu.Unlock()
				return domain.SetInvalidValue
			}
		}
	}

	s.values[name] = value
	persistentLoaded := s.persistentLoaded
	accepting := s.acceptMessages
	callbacks := append([]domain.PropertyChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	if persistentLoaded && strings.HasPrefix(name, "persist.") {
		s.persist(name, value)
	}

	if accepting {
		for _, fn := range callbacks {
			fn(name, value)
		}
	}

	return domain.SetSuccess
}

func valueMatchesType(value string, info domain.PropertyInfo) bool {
	switch info.Type {
	case domain.TypeBool:
		return value == "true" || value == "false" || value == "1" || value == "0"
	case domain.TypeInt, domain.TypeUint:
		if value == "" {
			return false
		}
		for i, c := range value {
			if c == '-' && i == 0 {
				continue
			}
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	case domain.TypeEnum:
		for _, e := range info.Enum {
			if e == value {
				return true
			}
		}
		return len(info.Enum) == 0
	default:
		return true
	}
}

func (s *store) persist(name, value string) {
	if s.io == nil || s.persistDir == "" {
		return
	}
	path := filepath.Join(s.persistDir, name)
	_ = s.io.WriteFileAtomic(path, []byte(value), 0600)
}

func (s *store) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *store) OnChange(fn domain.PropertyChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *store) SetAcceptMessages(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptMessages = v
}

func (s *store) AcceptingMessages() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptMessages
}

func (s *store) SetPersistentLoaded(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistentLoaded = v
}

func (s *store) PersistentLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistentLoaded
}

// LoadPersisted reads back every previously persisted persist.* file under
// persistDir into the in-memory map without re-triggering a durable write
// or change notification (used at boot, before SetPersistentLoaded(true)).
func (s *store) LoadPersisted() error {
	if s.io == nil || s.persistDir == "" {
		return nil
	}
	names, err := s.io.ReadDir(s.persistDir)
	if err != nil {
		return nil // no persisted state yet is not an error
	}
	for _, name := range names {
		data, err := s.io.ReadFile(filepath.Join(s.persistDir, name))
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.values[name] = string(data)
		s.mu.Unlock()
	}
	return nil
}
