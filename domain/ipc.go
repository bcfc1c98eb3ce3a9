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

package domain

// InternalMessageType tags the union carried on the internal socket
// between the Property Server (C5) and the supervisor main loop (§3
// InternalMessage).
type InternalMessageType int

const (
	MsgPropertyChanged InternalMessageType = iota
	MsgControlRequest
	MsgLoadPersistentProperties
	MsgStopSendingMessages
	MsgStartSendingMessages
)

// InternalMessage is the tagged union exchanged on the internal socketpair.
// Type selects which of the payload fields are meaningful.
type InternalMessage struct {
	Type InternalMessageType

	// MsgPropertyChanged: Name and Value. MsgControlRequest also uses Name,
	// for the target service.
	Name  string
	Value string

	// MsgControlRequest
	Verb ControlVerb
	Pid  int32

	// ReplyFd, when non-negative, is a duplicated client-socket descriptor
	// the supervisor should write the ResultCode reply directly into
	// (file-descriptor passing for API > Q clients, §4.5, §9).
	ReplyFd int
}
