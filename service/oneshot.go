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

package service

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/internal/cgroup"
)

var execServiceCounter uint64

// MaxSuppGids bounds the supplementary-group list a "exec ..." control
// command may request (§4.2 MakeTemporaryOneshotService).
const MaxSuppGids = 32

// MakeTemporaryOneshotService parses argv of the form
// "[seclabel [uid [gid supp_gid*]]] -- cmd args..." and builds an
// ONESHOT|TEMPORARY Service for it, named "exec <N> (cmd args)" with N a
// monotonic counter (§4.2).
func MakeTemporaryOneshotService(
	argv []string,
	registry domain.ServiceRegistryIface,
	props domain.PropertyStoreIface,
	tracker domain.PidTrackerIface,
	cg *cgroup.Manager,
	selfExe string,
) (*Service, error) {
	sep := -1
	for i, a := range argv {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep == -1 || sep+1 >= len(argv) {
		return nil, domain.NewError(domain.ErrConfigInvalid, "MakeTemporaryOneshotService",
			fmt.Errorf("missing \"--\" command separator"))
	}

	header := argv[:sep]
	cmd := argv[sep+1:]

	var cfg domain.ServiceConfig
	cfg.Argv = cmd

	if len(header) > 0 {
		cfg.SeLabel = header[0]
	}
	if len(header) > 1 {
		uid, err := strconv.ParseUint(header[1], 10, 32)
		if err != nil {
			return nil, domain.NewError(domain.ErrInvalidArgument, "MakeTemporaryOneshotService", err)
		}
		cfg.Uid = uint32(uid)
	}
	if len(header) > 2 {
		gid, err := strconv.ParseUint(header[2], 10, 32)
		if err != nil {
			return nil, domain.NewError(domain.ErrInvalidArgument, "MakeTemporaryOneshotService", err)
		}
		cfg.Gid = uint32(gid)

		supp := header[3:]
		if len(supp) > MaxSuppGids {
			return nil, domain.NewError(domain.ErrOverflow, "MakeTemporaryOneshotService",
				fmt.Errorf("%d supplementary gids exceeds max %d", len(supp), MaxSuppGids))
		}
		for _, g := range supp {
			gv, err := strconv.ParseUint(g, 10, 32)
			if err != nil {
				return nil, domain.NewError(domain.ErrInvalidArgument, "MakeTemporaryOneshotService", err)
			}
			cfg.SuppGids = append(cfg.SuppGids, uint32(gv))
		}
	}

	n := atomic.AddUint64(&execServiceCounter, 1)
	cfg.Name = fmt.Sprintf("exec %d (%s)", n, strings.Join(cmd, " "))
	cfg.ClassNames = []string{"default"}
	cfg.OomScoreAdj = domain.OomScoreAdjUnset

	svc := New(cfg, registry, props, tracker, cg, selfExe, nil)
	svc.flags.Set(domain.FlagOneshot)
	svc.flags.Set(domain.FlagTemporary)

	if registry != nil {
		if err := registry.Add(svc); err != nil {
			return nil, err
		}
	}

	return svc, nil
}
