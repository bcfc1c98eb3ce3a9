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

package propserver

import (
	"bytes"
	"encoding/gob"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/coreinit/coreinit/domain"
)

// internalSocket wraps this process's end of the SEQPACKET socketpair
// shared with the supervisor main loop (§4.5 Two sockets). Messages are
// gob-encoded InternalMessage values, one per datagram -- SEQPACKET
// preserves message boundaries so no length prefix is needed.
//
// Reads happen synchronously, called only from the server's single poll
// loop once it has observed the fd is readable (§4.5 Threading) -- there is
// no background reader goroutine here.
type internalSocket struct {
	conn *net.UnixConn

	mu     sync.Mutex
	closed bool
}

func newInternalSocket(conn *net.UnixConn) *internalSocket {
	return &internalSocket{conn: conn}
}

// fd returns the raw descriptor for the server's poll set. ok is false when
// conn is nil, which is the case in tests that build a Server without a
// real socketpair.
func (s *internalSocket) fd() (int, bool) {
	if s.conn == nil {
		return 0, false
	}
	rc, err := s.conn.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	if ctlErr := rc.Control(func(f uintptr) { fd = int(f) }); ctlErr != nil {
		return 0, false
	}
	return fd, true
}

// readOne decodes the single pending InternalMessage. Call only after the
// poll loop has seen the fd is readable; SEQPACKET delivers one message per
// read so this never blocks on a partial datagram.
func (s *internalSocket) readOne() (domain.InternalMessage, bool) {
	buf := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := s.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return domain.InternalMessage{}, false
	}

	var msg domain.InternalMessage
	if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
		logrus.Warnf("propserver: malformed internal message, ignoring: %v", err)
		return domain.InternalMessage{}, false
	}

	msg.ReplyFd = -1
	if oobn > 0 {
		if fd, ok := replyFdFromOOB(oob[:oobn]); ok {
			msg.ReplyFd = fd
		}
	}

	return msg, true
}

// replyFdFromOOB extracts the single transferred descriptor, if any, from
// the SCM_RIGHTS ancillary data sendWithFD attaches for v2 (API > Q)
// control requests (§4.5 Authorization, file-descriptor passing).
func replyFdFromOOB(oob []byte) (int, bool) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil || len(fds) == 0 {
			continue
		}
		return fds[0], true
	}
	return 0, false
}

func (s *internalSocket) send(msg domain.InternalMessage) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return err
	}
	_, _, err := s.conn.WriteMsgUnix(buf.Bytes(), nil, nil)
	return err
}

// sendWithFD transfers conn's underlying descriptor to the supervisor
// alongside the message, releasing the server's own handle first so the
// descriptor isn't double-owned, and closing the duplicate on send
// failure to avoid a leak (§4.5 Authorization, "file-descriptor passing
// for API > Q clients").
func (s *internalSocket) sendWithFD(msg domain.InternalMessage, conn *net.UnixConn) error {
	f, err := conn.File()
	if err != nil {
		return err
	}
	_ = conn.Close()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		f.Close()
		return err
	}

	rights := unix.UnixRights(int(f.Fd()))
	_, _, err = s.conn.WriteMsgUnix(buf.Bytes(), rights, nil)
	f.Close()
	if err != nil {
		return err
	}
	return nil
}

func (s *internalSocket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}
