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

// Package service implements the Service Object (C2): one instance per
// configured service, owning its flags, pid, and lifecycle transitions.
// The fork+exec idiom is grounded on gravwell's processManager.routine
// (exec.Cmd + SysProcAttr.Credential, a goroutine driving Wait, exit-status
// decoding via *exec.ExitError), adapted here to a self-re-exec under the
// cred.InitCommandName subcommand so the Credential/Sandbox Applier (C1)
// can run its ordered setup between fork and the final target exec.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/cred"
	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/internal/cgroup"
)

// crashWindow is how recently a prior crash must have happened for it to
// count toward the same crash-loop episode (§4.2 Crash policy).
const crashWindow = 4 * time.Minute

const maxCrashCount = 4

type Service struct {
	mu sync.Mutex

	cfg   domain.ServiceConfig
	flags *domain.ServiceFlags

	pid         uint32
	startOrder  uint64
	timeStarted time.Time
	timeCrashed time.Time
	crashCount  int

	postData               bool
	runningAtPostDataReset bool

	cgroupDir string

	registry domain.ServiceRegistryIface
	props    domain.PropertyStoreIface
	tracker  domain.PidTrackerIface
	cg       *cgroup.Manager
	selfExe  string

	bootComplete func() bool
}

// New builds a Service for cfg. selfExe is the supervisor's own executable
// path, re-exec'd under cred.InitCommandName to run the Applier.
// bootComplete reports whether the system has finished booting, consulted
// by the crash-loop policy; a nil func is treated as "always complete".
func New(
	cfg domain.ServiceConfig,
	registry domain.ServiceRegistryIface,
	props domain.PropertyStoreIface,
	tracker domain.PidTrackerIface,
	cg *cgroup.Manager,
	selfExe string,
	bootComplete func() bool,
) *Service {
	flags := domain.NewServiceFlags()
	flags.SetTo(domain.FlagCritical, cfg.Critical)
	flags.SetTo(domain.FlagOneshot, cfg.Oneshot)
	flags.SetTo(domain.FlagTemporary, cfg.Temporary)
	flags.SetTo(domain.FlagConsole, cfg.Console)
	flags.SetTo(domain.FlagRcDisabled, cfg.RcDisabled)
	flags.SetTo(domain.FlagDisabled, cfg.RcDisabled)
	flags.SetTo(domain.FlagPreApexd, cfg.PreApexd)
	flags.Set(domain.FlagCgroupEmpty)

	return &Service{
		cfg:          cfg,
		flags:        flags,
		registry:     registry,
		props:        props,
		tracker:      tracker,
		cg:           cg,
		selfExe:      selfExe,
		bootComplete: bootComplete,
	}
}

func (s *Service) Name() string            { return s.cfg.Name }
func (s *Service) ClassNames() []string    { return s.cfg.ClassNames }
func (s *Service) Config() *domain.ServiceConfig { return &s.cfg }
func (s *Service) Flags() *domain.ServiceFlags   { return s.flags }

func (s *Service) Pid() uint32                     { return s.pid }
func (s *Service) StartOrder() uint64              { return s.startOrder }
func (s *Service) TimeStarted() time.Time          { return s.timeStarted }
func (s *Service) TimeCrashed() time.Time          { return s.timeCrashed }
func (s *Service) CrashCount() int                 { return s.crashCount }
func (s *Service) PostData() bool              { return s.postData }
func (s *Service) SetPostData(v bool)          { s.postData = v }
func (s *Service) RunningAtPostDataReset() bool { return s.runningAtPostDataReset }
func (s *Service) SetRunningAtPostDataReset(v bool) { s.runningAtPostDataReset = v }

func isUpdatable(classes []string) bool {
	for _, c := range classes {
		if c == "updatable" {
			return true
		}
	}
	return false
}

// Start implements §4.2 Start.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isUpdatable(s.cfg.ClassNames) && s.registry != nil && !s.registry.ServicesUpdated() {
		s.registry.EnqueueDelayed(s)
		return domain.NewError(domain.ErrInvalidArgument, "Start", errors.New("services not yet updated, enqueued"))
	}

	if s.flags.Has(domain.FlagRunning) {
		if s.flags.Has(domain.FlagOneshot) && s.flags.Has(domain.FlagDisabled) {
			s.flags.Set(domain.FlagRestart)
		}
		return nil
	}

	if s.cfg.Console {
		path := s.cfg.ConsolePath
		if path == "" {
			path = "/dev/console"
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			s.flags.Set(domain.FlagDisabled)
			return domain.NewError(domain.ErrIO, "Start.console", err)
		}
		f.Close()
	}

	if len(s.cfg.Argv) == 0 {
		s.flags.Set(domain.FlagDisabled)
		return domain.NewError(domain.ErrConfigInvalid, "Start", errors.New("empty argv"))
	}
	if _, err := os.Stat(s.cfg.Argv[0]); err != nil {
		s.flags.Set(domain.FlagDisabled)
		return domain.NewError(domain.ErrNotFound, "Start.stat", err)
	}

	seLabel, err := s.computeSeLabel()
	if err != nil {
		s.flags.Set(domain.FlagDisabled)
		return err
	}

	pid, err := s.forkAndExec(seLabel)
	if err != nil {
		s.flags.Set(domain.FlagDisabled)
		return err
	}

	s.pid = pid
	if s.registry != nil {
		s.startOrder = s.registry.NextStartOrder()
		s.postData = s.registry.IsPostData()
	}
	s.timeStarted = time.Now()
	s.flags.Clear(domain.FlagDisabled)
	s.flags.Clear(domain.FlagCgroupEmpty)
	s.flags.Set(domain.FlagRunning)
	if s.tracker != nil {
		s.tracker.Track(pid, s)
	}

	s.setupCgroup(pid)

	if s.cfg.OomScoreAdj != domain.OomScoreAdjUnset {
		path := fmt.Sprintf("/proc/%d/oom_score_adj", pid)
		if err := os.WriteFile(path, []byte(strconv.Itoa(s.cfg.OomScoreAdj)), 0644); err != nil {
			logrus.Warnf("service: %s: writing oom_score_adj failed: %v", s.cfg.Name, err)
		}
	}

	if !s.flags.Has(domain.FlagTemporary) {
		s.publishState("running")
	}

	return nil
}

func (s *Service) setupCgroup(pid uint32) {
	if s.cg == nil {
		return
	}
	dir, err := s.cg.Create(s.cfg.Name, s.cfg.Uid, pid)
	if err != nil {
		logrus.Warnf("service: %s: cgroup create failed: %v", s.cfg.Name, err)
		return
	}
	s.cgroupDir = dir

	mc := s.cfg.Memory
	if mc.Swappiness == nil && mc.SoftLimitBytes == nil && mc.LimitBytes == nil && mc.LimitPercent == nil {
		return
	}
	override := ""
	if mc.LimitPropertyName != "" && s.props != nil {
		override, _ = s.props.Get(mc.LimitPropertyName)
	}
	s.cg.ApplyMemory(dir, cgroup.MemoryControl{
		Swappiness:     mc.Swappiness,
		SoftLimitBytes: mc.SoftLimitBytes,
		LimitBytes:     mc.LimitBytes,
		LimitPercent:   mc.LimitPercent,
	}, override)
}

// computeSeLabel resolves the label the child transitions into before
// exec: the explicit seclabel if configured, else derived from argv[0]'s
// file context. Deriving the caller's own context back is a missing
// domain-transition configuration error (§4.2 Start).
func (s *Service) computeSeLabel() (string, error) {
	if s.cfg.SeLabel != "" {
		return s.cfg.SeLabel, nil
	}
	if !selinux.GetEnabled() {
		return "", nil
	}

	derived, err := selinux.FileLabel(s.cfg.Argv[0])
	if err != nil {
		return "", domain.NewError(domain.ErrSelinux, "computeSeLabel", err)
	}
	current, err := selinux.CurrentLabel()
	if err == nil && derived == current {
		return "", domain.NewError(domain.ErrSelinux, "computeSeLabel",
			errors.New("derived label matches caller's own context; no domain transition configured"))
	}
	return derived, nil
}

// forkAndExec re-execs the supervisor binary under cred.InitCommandName,
// handing the child its ApplierSpec over a pipe, and returns the child's
// pid without waiting for it (reaping is driven centrally by Reaper).
func (s *Service) forkAndExec(seLabel string) (uint32, error) {
	spec := &domain.ApplierSpec{
		Uid:            s.cfg.Uid,
		Gid:            s.cfg.Gid,
		SuppGids:       s.cfg.SuppGids,
		Capabilities:   s.cfg.Capabilities,
		Priority:       s.cfg.Priority,
		IoprioClass:    s.cfg.IoprioClass,
		IoprioPri:      s.cfg.IoprioPri,
		NamespaceFlags: s.cfg.NamespaceFlags,
		Descriptors:    s.cfg.Descriptors,
		WritePidFiles:  s.cfg.WritePidFiles,
		SeLabel:        seLabel,
		Argv:           s.cfg.Argv,
	}
	for name, value := range s.cfg.Env {
		spec.Env = append(spec.Env, name+"="+value)
	}
	if s.props != nil {
		spec.Properties = s.props.All()
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, domain.NewError(domain.ErrIO, "forkAndExec.pipe", err)
	}
	defer r.Close()

	cmd := exec.Command(s.selfExe, cred.InitCommandName)
	cmd.ExtraFiles = []*os.File{r}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		w.Close()
		return 0, domain.NewError(domain.ErrIO, "forkAndExec.start", err)
	}

	if err := cred.EncodeSpec(w, spec); err != nil {
		w.Close()
		return 0, domain.NewError(domain.ErrIO, "forkAndExec.encode", err)
	}
	w.Close()

	return uint32(cmd.Process.Pid), nil
}

func (s *Service) publishState(state string) {
	if s.props == nil {
		return
	}
	s.props.Set(fmt.Sprintf("init.svc.%s", s.cfg.Name), state)
}

// ExecStart is the convenience entry point for one-shot anonymous services
// (§4.2 ExecStart, MakeTemporaryOneshotService).
func (s *Service) ExecStart() error {
	s.flags.Set(domain.FlagOneshot)
	if err := s.Start(); err != nil {
		return err
	}
	s.flags.Set(domain.FlagExec)
	if s.registry != nil {
		s.registry.SetExecServiceRunning(true)
	}
	return nil
}

func (s *Service) StartIfNotDisabled() error {
	if s.flags.Has(domain.FlagDisabled) {
		s.flags.Set(domain.FlagDisabledStart)
		return nil
	}
	return s.Start()
}

func (s *Service) Enable() error {
	s.flags.Clear(domain.FlagDisabled)
	s.flags.Clear(domain.FlagRcDisabled)
	if s.flags.Has(domain.FlagDisabledStart) {
		s.flags.Clear(domain.FlagDisabledStart)
		return s.Start()
	}
	return nil
}

func (s *Service) Stop() error    { return s.StopOrReset(domain.StopDisabled) }
func (s *Service) Reset() error   { return s.StopOrReset(domain.StopReset) }
func (s *Service) Restart() error { return s.StopOrReset(domain.StopRestart) }

func (s *Service) Terminate() error {
	s.mu.Lock()
	s.flags.Clear(domain.FlagRestarting)
	s.flags.Clear(domain.FlagDisabledStart)
	pid := s.pid
	s.mu.Unlock()

	if err := s.StopOrReset(domain.StopDisabled); err != nil {
		return err
	}
	if pid != 0 {
		_ = unix.Kill(int(pid), unix.SIGTERM)
	}
	return nil
}

func (s *Service) Timeout() {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid != 0 {
		_ = unix.Kill(int(pid), unix.SIGKILL)
	}
}

// StopOrReset implements the §4.2 transition table.
func (s *Service) StopOrReset(how domain.StopIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch how {
	case domain.StopDisabled:
		s.flags.Clear(domain.FlagRestarting)
		s.flags.Clear(domain.FlagDisabledStart)
		s.flags.Clear(domain.FlagRestart)
		s.flags.Set(domain.FlagDisabled)
	case domain.StopReset:
		s.flags.Clear(domain.FlagRestarting)
		s.flags.Clear(domain.FlagDisabledStart)
		s.flags.Clear(domain.FlagRestart)
		if s.flags.Has(domain.FlagRcDisabled) {
			s.flags.Set(domain.FlagDisabled)
		} else {
			s.flags.Set(domain.FlagReset)
		}
	case domain.StopRestart:
		s.flags.Clear(domain.FlagRestarting)
		s.flags.Clear(domain.FlagDisabledStart)
		s.flags.Clear(domain.FlagDisabled)
		s.flags.Clear(domain.FlagReset)
	default:
		s.flags.Set(domain.FlagDisabled)
	}

	if s.pid != 0 {
		if s.cgroupDir != "" {
			_ = killCgroup(s.cgroupDir)
		}
		s.publishState("stopping")
	} else {
		s.publishState("stopped")
	}
	return nil
}

// Reap implements §4.2 Reap.
func (s *Service) Reap(wstatus domain.WaitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracker != nil && s.pid != 0 {
		s.tracker.Untrack(s.pid)
	}

	if !(s.flags.Has(domain.FlagOneshot) && !s.flags.Has(domain.FlagRestart)) {
		if s.cgroupDir != "" {
			_ = killCgroup(s.cgroupDir)
		}
	}

	for _, d := range s.cfg.Descriptors {
		_ = os.Remove(d.Dir + "/" + d.Name)
	}

	if s.flags.Has(domain.FlagExec) {
		s.flags.Clear(domain.FlagExec)
		if s.registry != nil {
			s.registry.SetExecServiceRunning(false)
		}
	}

	s.flags.Set(domain.FlagCgroupEmpty)

	if s.flags.Has(domain.FlagTemporary) {
		s.pid = 0
		s.cleanupCgroup()
		return nil
	}

	s.flags.Clear(domain.FlagRunning)

	if s.flags.Has(domain.FlagOneshot) && !s.flags.Has(domain.FlagRestart) && !s.flags.Has(domain.FlagReset) {
		s.flags.Set(domain.FlagDisabled)
	}

	if s.flags.Has(domain.FlagDisabled) || s.flags.Has(domain.FlagReset) {
		s.publishState("stopped")
		s.pid = 0
		s.cleanupCgroup()
		return nil
	}

	s.applyCrashPolicy()

	s.flags.Clear(domain.FlagRestart)
	s.flags.Set(domain.FlagRestarting)
	s.publishState("restarting")

	s.pid = 0
	s.cleanupCgroup()
	return nil
}

func (s *Service) cleanupCgroup() {
	if s.cgroupDir == "" {
		return
	}
	if err := cgroup.Remove(s.cgroupDir); err != nil {
		logrus.Debugf("service: %s: cgroup remove deferred: %v", s.cfg.Name, err)
	}
	s.cgroupDir = ""
}

// applyCrashPolicy implements §4.2 Crash policy.
func (s *Service) applyCrashPolicy() {
	critical := s.flags.Has(domain.FlagCritical)
	updatable := isUpdatable(s.cfg.ClassNames)
	if !critical && !updatable {
		return
	}

	complete := s.bootComplete == nil || s.bootComplete()
	now := time.Now()

	if now.Before(s.timeCrashed.Add(crashWindow)) || !complete {
		s.crashCount++
	} else {
		s.timeCrashed = now
		s.crashCount = 1
	}

	if s.crashCount > maxCrashCount {
		if critical {
			logrus.Fatalf("service: critical service %q crashed %d times, aborting", s.cfg.Name, s.crashCount)
		} else if s.props != nil {
			s.props.Set("ro.init.updatable_crashing", "1")
		}
	}
}

func killCgroup(dir string) error {
	data, err := os.ReadFile(dir + "/cgroup.procs")
	if err != nil {
		return err
	}
	for _, field := range splitLines(string(data)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
