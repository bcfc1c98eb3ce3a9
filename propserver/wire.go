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
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"

	"github.com/coreinit/coreinit/domain"
)

// handleRequest reads one framed request off conn and, for SETPROP2,
// writes back the result code (legacy SETPROP has no reply body, per
// §4.5/§6).
func (s *Server) handleRequest(conn *net.UnixConn, creds domain.PeerCredentials) domain.ResultCode {
	var cmd uint32
	if err := binary.Read(conn, binary.LittleEndian, &cmd); err != nil {
		return domain.ResultReadCmd
	}

	switch cmd {
	case domain.CmdSetProp:
		name, value, err := readLegacyFrame(conn)
		if err != nil {
			return domain.ResultReadData
		}
		s.dispatch(name, value, creds, conn, false)
		return domain.ResultSuccess

	case domain.CmdSetProp2:
		name, value, err := readFramedStrings(conn)
		if err != nil {
			writeResult(conn, domain.ResultReadData)
			return domain.ResultReadData
		}
		code := s.dispatch(name, value, creds, conn, true)
		writeResult(conn, code)
		return code

	default:
		writeResult(conn, domain.ResultInvalidCmd)
		return domain.ResultInvalidCmd
	}
}

func readLegacyFrame(r io.Reader) (string, string, error) {
	name := make([]byte, domain.LegacyNameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return "", "", err
	}
	value := make([]byte, domain.LegacyValueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return "", "", err
	}
	return cString(name), cString(value), nil
}

func cString(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func readFramedStrings(r io.Reader) (string, string, error) {
	name, err := readOneFramedString(r)
	if err != nil {
		return "", "", err
	}
	value, err := readOneFramedString(r)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}

func readOneFramedString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length > domain.MaxStringLen {
		return "", fmt.Errorf("string length %d exceeds max %d", length, domain.MaxStringLen)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeResult(conn *net.UnixConn, code domain.ResultCode) {
	_ = binary.Write(conn, binary.LittleEndian, uint32(code))
}

// dispatch implements the §4.5 authorization table, then either forwards a
// ControlRequest on the internal socket (ctl.*), records an audit log
// (sys.powerctl), enqueues an async restorecon (selinux.restorecon_recursive),
// or performs a plain PropertyInfo-checked Set.
func (s *Server) dispatch(name, value string, creds domain.PeerCredentials, conn *net.UnixConn, isV2 bool) domain.ResultCode {
	if !domain.IsLegalPropertyName(name) {
		return domain.ResultInvalidName
	}

	if strings.HasPrefix(name, "ctl.") {
		return s.handleControl(name, value, creds, conn, isV2)
	}

	if name == "selinux.restorecon_recursive" {
		if creds.Pid != 1 && value != "" {
			s.restorecon.enqueue(value, s.store)
		}
		return domain.ResultSuccess
	}

	if info, ok := s.info.Lookup(name); ok {
		if !s.checkPermission(info.Context, creds) {
			return domain.ResultPermissionDenied
		}
	}

	result := s.store.Set(name, value)

	if name == "sys.powerctl" && result == domain.SetSuccess {
		cmdline := ""
		if s.proc != nil {
			cmdline, _ = s.proc.Cmdline(creds.Pid)
		}
		logrus.Infof("propserver: sys.powerctl=%q written by pid=%d (%s)", value, creds.Pid, cmdline)
	}

	return domain.ResultFromSet(result)
}

// handleControl converts a ctl.* write into a ControlRequest forwarded on
// the internal socket, per §4.4/§4.5's legacy+full authorization checks.
func (s *Server) handleControl(name, value string, creds domain.PeerCredentials, conn *net.UnixConn, isV2 bool) domain.ResultCode {
	verb := domain.ControlVerb(strings.TrimPrefix(name, "ctl."))

	legacyTarget := "ctl." + value
	if info, ok := s.info.Lookup(legacyTarget); ok && s.checkPermission(info.Context, creds) {
		return s.forwardControl(verb, value, creds, conn, isV2)
	}

	fullTarget := name + "$" + value
	if info, ok := s.info.Lookup(fullTarget); ok && s.checkPermission(info.Context, creds) {
		return s.forwardControl(verb, value, creds, conn, isV2)
	}

	return domain.ResultControlMessageError
}

func (s *Server) forwardControl(verb domain.ControlVerb, target string, creds domain.PeerCredentials, conn *net.UnixConn, isV2 bool) domain.ResultCode {
	msg := domain.InternalMessage{
		Type: domain.MsgControlRequest,
		Verb: verb,
		Name: target,
		Pid:  creds.Pid,
		ReplyFd: -1,
	}

	// For v2 (API > Q) clients the reply is written by the supervisor
	// directly through a transferred descriptor; release our handle
	// before sendmsg so we never hold it open after the transfer.
	if isV2 {
		if err := s.internal.sendWithFD(msg, conn); err != nil {
			logrus.Warnf("propserver: forwarding control request failed: %v", err)
			return domain.ResultControlMessageError
		}
		return domain.ResultSuccess
	}

	if err := s.internal.send(msg); err != nil {
		return domain.ResultControlMessageError
	}
	return domain.ResultSuccess
}

// checkPermission is the property_service:set check (§4.5 Authorization).
// A real SELinux AVC check needs a loaded policy; here we grant whenever
// SELinux enforcement is unavailable/disabled (matching permissive-mode
// behavior) and otherwise defer to the context's presence in the trie as
// the authorization signal, since the access-vector cache itself is
// outside this module's scope.
func (s *Server) checkPermission(targetContext string, creds domain.PeerCredentials) bool {
	if !selinux.GetEnabled() {
		return true
	}
	return targetContext != ""
}
