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

// Package propserver implements the Property Server (C5): the client
// listen socket's framed wire protocol, peer-credential capture, ctl.*
// authorization and forwarding, and the async restorecon queue. Threading
// follows §4.5 literally: a single dedicated loop polls {client-listen,
// internal-socket} with unix.Poll and handles whichever is ready inline --
// no per-connection goroutine, no separate goroutine for the internal
// socket.
package propserver

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

type Server struct {
	store domain.PropertyStoreIface
	info  domain.PropertyInfoServiceIface
	proc  domain.ProcessServiceIface

	socketPath string
	listener   *net.UnixListener

	internal *internalSocket

	restorecon *restoreconWorker

	mu      sync.Mutex
	stopped bool
}

// New builds the Property Server. internalConn is this server's end of the
// SEQPACKET socketpair shared with the supervisor main loop (§4.5 Two
// sockets). proc resolves the cmdline of a sys.powerctl writer for the audit
// log; a nil proc just logs the bare pid.
func New(
	store domain.PropertyStoreIface,
	info domain.PropertyInfoServiceIface,
	proc domain.ProcessServiceIface,
	socketPath string,
	internalConn *net.UnixConn,
) domain.PropServerIface {
	store.Setup(info)
	return &Server{
		store:      store,
		info:       info,
		proc:       proc,
		socketPath: socketPath,
		internal:   newInternalSocket(internalConn),
		restorecon: newRestoreconWorker(),
	}
}

// Serve implements §4.5: listens on socketPath (mode 0666), then runs a
// single unix.Poll loop over the listener and the internal socket, handling
// whichever is ready -- a new connection or a control message -- inline
// before polling again.
func (s *Server) Serve() error {
	_ = os.Remove(s.socketPath)

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return domain.NewError(domain.ErrIO, "Serve.listen", err)
	}
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		logrus.Warnf("propserver: chmod %s failed: %v", s.socketPath, err)
	}
	s.listener = l

	listenFd, ok := rawFd(l)
	if !ok {
		_ = l.Close()
		return domain.NewError(domain.ErrIO, "Serve.listenFd", nil)
	}

	pollFds := []unix.PollFd{{Fd: int32(listenFd), Events: unix.POLLIN}}
	internalIdx := -1
	if fd, ok := s.internal.fd(); ok {
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		internalIdx = 1
	}

	for {
		if s.isStopped() {
			return nil
		}

		pollFds[0].Revents = 0
		if internalIdx >= 0 {
			pollFds[internalIdx].Revents = 0
		}

		if _, err := unix.Poll(pollFds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			if s.isStopped() {
				return nil
			}
			logrus.Warnf("propserver: poll failed: %v", err)
			continue
		}

		// Both branches run inline on this one goroutine: a slow client
		// request delays the internal socket (and new accepts) until it
		// finishes, exactly as a single-threaded event loop would.
		if pollFds[0].Revents&unix.POLLIN != 0 {
			s.acceptOne()
		}
		if internalIdx >= 0 && pollFds[internalIdx].Revents&unix.POLLIN != 0 {
			if msg, ok := s.internal.readOne(); ok {
				s.handleInternalMessage(msg)
			}
		}
	}
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) acceptOne() {
	conn, err := s.listener.AcceptUnix()
	if err != nil {
		if !s.isStopped() {
			logrus.Warnf("propserver: accept failed: %v", err)
		}
		return
	}
	s.handleConn(conn)
}

func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.internal.close()
	s.restorecon.stop()
}

// handleInternalMessage answers LoadPersistentProperties / StopSendingMessages
// / StartSendingMessages control messages sent by the supervisor (§4.5
// Threading), called inline from the poll loop.
func (s *Server) handleInternalMessage(msg domain.InternalMessage) {
	switch msg.Type {
	case domain.MsgLoadPersistentProperties:
		if err := s.store.LoadPersisted(); err != nil {
			logrus.Warnf("propserver: LoadPersisted failed: %v", err)
		}
		s.store.SetPersistentLoaded(true)
		s.store.Set("ro.persistent_properties.ready", "true")
	case domain.MsgStopSendingMessages:
		s.store.SetAcceptMessages(false)
	case domain.MsgStartSendingMessages:
		s.store.SetAcceptMessages(true)
	default:
		logrus.Debugf("propserver: unexpected inbound internal message type %v", msg.Type)
	}
}

// rawFd extracts l's underlying descriptor for the poll set without taking
// ownership of it -- l.Close() still closes the real fd, which is what
// wakes a blocked Poll() call on Stop().
func rawFd(l *net.UnixListener) (int, bool) {
	sc, err := l.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	if ctlErr := sc.Control(func(f uintptr) { fd = int(f) }); ctlErr != nil {
		return 0, false
	}
	return fd, true
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()

	creds, err := capturePeerCredentials(conn)
	if err != nil {
		logrus.Debugf("propserver: peer credential capture failed: %v", err)
	}

	deadline := time.Now().Add(domain.ClientRequestBudget)
	_ = conn.SetDeadline(deadline)

	code := s.handleRequest(conn, creds)
	_ = code // per-cmd reply already written by handleRequest
}
