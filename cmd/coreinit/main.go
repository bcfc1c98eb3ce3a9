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

package main

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/cred"
	"github.com/coreinit/coreinit/domain"
	"github.com/coreinit/coreinit/internal/cgroup"
	"github.com/coreinit/coreinit/internal/pidfile"
	"github.com/coreinit/coreinit/process"
	"github.com/coreinit/coreinit/property"
	"github.com/coreinit/coreinit/propserver"
	"github.com/coreinit/coreinit/registry"
	"github.com/coreinit/coreinit/service"
	"github.com/coreinit/coreinit/sysio"
)

const (
	runDir  string = "/run/coreinit"
	pidPath string = runDir + "/coreinit.pid"
	usage   string = `coreinit

coreinit is an early-userspace service supervisor and property service: it
starts, restarts and reaps the services named in its configuration, and
exposes the shared key/value property store those services and their
control clients (ctl.start/ctl.stop/ctl.restart) read and write.
`
)

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

func setupRunDir() error {
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %s", runDir, err)
	}
	return nil
}

// runProfiler mirrors the cpu/memory profiling toggle: mutually exclusive,
// and NoShutdownHook so our own signal handler remains the one that stops
// the collector.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	return prof, nil
}

func exitHandler(
	signalChan chan os.Signal,
	srv domain.PropServerIface,
	reaper *service.Reaper,
	guard *pidfile.Guard,
	prof interface{ Stop() },
) {
	var printStack = false

	s := <-signalChan
	logrus.Warnf("coreinit caught signal: %s", s)
	logrus.Info("stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		n := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:n]))
	}

	srv.Stop()
	reaper.Stop()

	if prof != nil {
		prof.Stop()
	}

	if err := guard.Destroy(); err != nil {
		logrus.Warnf("failed to destroy coreinit pid file: %v", err)
	}

	logrus.Info("exiting ...")
	os.Exit(0)
}

// newInternalSocketPair creates the SEQPACKET socketpair shared between the
// Property Server (C5) and this supervisor main loop (§4.5 Two sockets):
// one end is handed to propserver.New, the other is read by serveControl.
func newInternalSocketPair() (server, main *net.UnixConn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating internal socketpair: %w", err)
	}

	serverFile := os.NewFile(uintptr(fds[0]), "propserver-internal")
	mainFile := os.NewFile(uintptr(fds[1]), "coreinit-internal")
	defer serverFile.Close()
	defer mainFile.Close()

	serverConn, err := net.FileConn(serverFile)
	if err != nil {
		return nil, nil, err
	}
	mainConn, err := net.FileConn(mainFile)
	if err != nil {
		serverConn.Close()
		return nil, nil, err
	}

	return serverConn.(*net.UnixConn), mainConn.(*net.UnixConn), nil
}

// serveControl is the supervisor-side twin of propserver's internal socket
// reader: it decodes gob-encoded InternalMessage values plus whatever
// SCM_RIGHTS descriptor sendWithFD attached, and executes the requested
// ctl.start/ctl.stop/ctl.restart against the registry (§4.4, §4.5).
func serveControl(conn *net.UnixConn, reg domain.ServiceRegistryIface) {
	buf := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(4))

	for {
		n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if err != nil {
			return
		}

		var msg domain.InternalMessage
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
			logrus.Warnf("coreinit: malformed internal message, ignoring: %v", err)
			continue
		}

		replyFd := -1
		if oobn > 0 {
			if scms, err := unix.ParseSocketControlMessage(oob[:oobn]); err == nil {
				for _, scm := range scms {
					if fds, err := unix.ParseUnixRights(&scm); err == nil && len(fds) > 0 {
						replyFd = fds[0]
						break
					}
				}
			}
		}

		switch msg.Type {
		case domain.MsgControlRequest:
			handleControlRequest(reg, msg, replyFd)
		case domain.MsgPropertyChanged:
			logrus.Debugf("coreinit: property changed %s=%s", msg.Name, msg.Value)
		default:
			logrus.Debugf("coreinit: unexpected internal message type %v", msg.Type)
		}
	}
}

func handleControlRequest(reg domain.ServiceRegistryIface, msg domain.InternalMessage, replyFd int) {
	code := domain.ResultControlMessageError

	svc, ok := reg.Find(msg.Name)
	if !ok {
		logrus.Warnf("coreinit: ctl.%s: unknown service %q", msg.Verb, msg.Name)
	} else {
		var err error
		switch msg.Verb {
		case domain.CtlStart:
			err = svc.StartIfNotDisabled()
		case domain.CtlStop:
			err = svc.Stop()
		case domain.CtlRestart:
			err = svc.Restart()
		default:
			err = fmt.Errorf("unrecognized control verb %q", msg.Verb)
		}
		if err != nil {
			logrus.Warnf("coreinit: ctl.%s %s failed: %v", msg.Verb, msg.Name, err)
		} else {
			code = domain.ResultSuccess
		}
	}

	if replyFd < 0 {
		return
	}
	f := os.NewFile(uintptr(replyFd), "ctl-reply")
	if err := binary.Write(f, binary.LittleEndian, uint32(code)); err != nil {
		logrus.Debugf("coreinit: writing control reply: %v", err)
	}
	f.Close()
}

// readTotalRAM parses /proc/meminfo's "MemTotal:" line the way the resolved
// cgroup memory limit (§3 Resource, limit_percent) expects: kB, converted
// to bytes. A read failure just leaves limit_percent unresolvable; absolute
// byte/string limits still work.
func readTotalRAM(io domain.IOServiceIface) int64 {
	data, err := io.ReadFile("/proc/meminfo")
	if err != nil {
		logrus.Warnf("coreinit: reading /proc/meminfo: %v", err)
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "MemTotal:"))
		if len(fields) == 0 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

func main() {
	app := cli.NewApp()
	app.Name = "coreinit"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket-path",
			Value: "/run/coreinit/property_service",
			Usage: "property service client socket path",
		},
		cli.StringFlag{
			Name:  "persist-dir",
			Value: "/data/property",
			Usage: "directory holding persist.* durable property files",
		},
		cli.StringFlag{
			Name:  "context-path",
			Value: "/dev/__properties__/property_info",
			Usage: "path the serialized PropertyInfo trie is published to",
		},
		cli.StringFlag{
			Name:  "device-tree-dir",
			Value: "/proc/device-tree/firmware/android",
			Usage: "device-tree directory ingested into ro.boot.* properties",
		},
		cli.StringFlag{
			Name:  "kernel-cmdline",
			Value: "/proc/cmdline",
			Usage: "kernel cmdline path ingested into ro.boot.*/ro.kernel.* properties",
		},
		cli.Int64Flag{
			Name:  "total-ram-bytes",
			Usage: "override total RAM used to resolve limit_percent (default: parsed from /proc/meminfo)",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("coreinit\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	// Hidden re-exec subcommand the Credential/Sandbox Applier (C1) launches
	// itself under via /proc/self/exe before handing off to execve (§4.3).
	app.Commands = []cli.Command{
		{
			Name:   cred.InitCommandName,
			Usage:  "internal: apply sandboxing and exec the service command",
			Hidden: true,
			Action: func(c *cli.Context) error {
				return cred.RunInit()
			},
		},
	}

	app.Before = func(ctx *cli.Context) error {
		rand.Seed(time.Now().UnixNano())

		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch logLevel := ctx.GlobalString("log-level"); logLevel {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info", "":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf("log-level option %q not recognized. exiting ...", logLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("initiating coreinit ...")

		if err := setupRunDir(); err != nil {
			return err
		}
		if err := pidfile.Check("coreinit", pidPath); err != nil {
			return err
		}

		ioService := sysio.NewIOService(sysio.OsFs)
		propStore := property.NewStore(ioService, ctx.GlobalString("persist-dir"))
		infoService := property.NewInfoService()
		processService := process.NewProcessService()
		svcRegistry := registry.NewServiceRegistry()
		reaper := service.NewReaper()

		if err := property.LoadContexts(infoService, ioService, ctx.GlobalString("context-path")); err != nil {
			logrus.Warnf("loading property contexts: %v", err)
		}
		propStore.Setup(infoService)

		property.LoadBootProperties(propStore, ioService)
		property.IngestDeviceTree(propStore, ioService, ctx.GlobalString("device-tree-dir"))
		if cmdline, err := ioService.ReadFile(ctx.GlobalString("kernel-cmdline")); err == nil {
			property.IngestKernelCmdline(propStore, string(cmdline))
		}
		property.ExportBootAliases(propStore)

		totalRAM := ctx.Int64("total-ram-bytes")
		if totalRAM == 0 {
			totalRAM = readTotalRAM(ioService)
		}
		// Service construction from external configuration is out of scope
		// here (services are "created by config parse (external)"); cgMgr is
		// what that loader would hand to each service.New call alongside
		// svcRegistry.Add.
		cgMgr := cgroup.NewManager(totalRAM)
		_ = cgMgr

		serverConn, mainConn, err := newInternalSocketPair()
		if err != nil {
			return err
		}

		propSrv := propserver.New(propStore, infoService, processService, ctx.GlobalString("socket-path"), serverConn)

		go serveControl(mainConn, svcRegistry)
		go reaper.Run()
		go func() {
			if err := propSrv.Serve(); err != nil {
				logrus.Errorf("property server exited: %v", err)
			}
		}()

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		guard, err := pidfile.Create("coreinit", pidPath)
		if err != nil {
			return fmt.Errorf("failed to create coreinit pid file: %s", err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, propSrv, reaper, guard, prof)

		// Read back persist.* properties before accepting writes, per §4.5
		// Threading's MsgLoadPersistentProperties handler in propserver
		// (serviced here directly since main already holds propStore).
		if err := propStore.LoadPersisted(); err != nil {
			logrus.Warnf("coreinit: loading persisted properties: %v", err)
		}
		propStore.SetPersistentLoaded(true)
		propStore.Set("ro.persistent_properties.ready", "true")
		propStore.SetAcceptMessages(true)

		systemd.SdNotify(false, systemd.SdNotifyReady)

		logrus.Info("ready ...")

		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
