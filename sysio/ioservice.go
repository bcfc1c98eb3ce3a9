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

// Package sysio provides the small file-I/O abstraction the Property Store
// (C4) uses for its persist.* durable writes and *.prop boot-time ingestion,
// backed by either the real OS filesystem or an in-memory one for tests.
package sysio

import (
	"os"
	"sort"

	"github.com/google/renameio"
	"github.com/spf13/afero"

	"github.com/coreinit/coreinit/domain"
)

// FsKind selects the backing filesystem, mirroring the teacher's
// IOOsFileService / IOMemFileService split so tests can run against an
// in-memory tree without touching the real disk.
type FsKind int

const (
	OsFs FsKind = iota
	MemFs
)

type ioService struct {
	kind  FsKind
	appFs afero.Fs
}

// NewIOService builds an IOServiceIface backed by the real filesystem
// (OsFs) or an in-memory one (MemFs, for unit tests).
func NewIOService(kind FsKind) domain.IOServiceIface {
	svc := &ioService{kind: kind}
	if kind == MemFs {
		svc.appFs = afero.NewMemMapFs()
	} else {
		svc.appFs = afero.NewOsFs()
	}
	return svc
}

func (s *ioService) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.appFs, path)
	if err != nil {
		return nil, domain.NewError(domain.ErrIO, "ReadFile", err)
	}
	return data, nil
}

// WriteFileAtomic writes data to path such that a concurrent reader never
// observes a partial write (§6 Writable artifact: "updated by atomic
// rename"). On the real filesystem this uses renameio, which additionally
// fsyncs the temp file and its directory before the rename; on the
// in-memory filesystem (tests) it falls back to a plain write-then-rename,
// since renameio requires a real directory entry to fsync.
func (s *ioService) WriteFileAtomic(path string, data []byte, perm uint32) error {
	if s.kind == OsFs {
		if err := renameio.WriteFile(path, data, os.FileMode(perm)); err != nil {
			return domain.NewError(domain.ErrIO, "WriteFileAtomic", err)
		}
		return nil
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.appFs, tmp, data, os.FileMode(perm)); err != nil {
		return domain.NewError(domain.ErrIO, "WriteFileAtomic", err)
	}
	if err := s.appFs.Rename(tmp, path); err != nil {
		return domain.NewError(domain.ErrIO, "WriteFileAtomic", err)
	}
	return nil
}

func (s *ioService) ReadDir(path string) ([]string, error) {
	infos, err := afero.ReadDir(s.appFs, path)
	if err != nil {
		return nil, domain.NewError(domain.ErrIO, "ReadDir", err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *ioService) Remove(path string) error {
	if err := s.appFs.Remove(path); err != nil {
		return domain.NewError(domain.ErrIO, "Remove", err)
	}
	return nil
}

// Fs exposes the underlying afero.Fs, used by tests that need to seed
// files before exercising the property store's boot-time loaders.
func (s *ioService) Fs() afero.Fs {
	return s.appFs
}
