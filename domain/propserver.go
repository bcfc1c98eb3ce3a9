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

import "time"

// Wire protocol constants (§6).
const (
	CmdSetProp  uint32 = 1 // legacy, fixed-size frame
	CmdSetProp2 uint32 = 2 // length-prefixed frame, replies with a result code

	MaxStringLen = 65535

	ClientRequestBudget = 2000 * time.Millisecond

	LegacyNameLen  = 32
	LegacyValueLen = 92
)

// ResultCode is the uint32 reply on the client socket (§6).
type ResultCode uint32

const (
	ResultSuccess ResultCode = iota
	ResultReadCmd
	ResultReadData
	ResultInvalidCmd
	ResultInvalidName
	ResultInvalidValue
	ResultPermissionDenied
	ResultSetFailed
	ResultReadOnlyAlready
	ResultControlMessageError
)

func ResultFromSet(r SetResult) ResultCode {
	switch r {
	case SetSuccess:
		return ResultSuccess
	case SetInvalidName:
		return ResultInvalidName
	case SetInvalidValue:
		return ResultInvalidValue
	case SetReadOnlyAlready:
		return ResultReadOnlyAlready
	case SetAddFailed:
		return ResultSetFailed
	default:
		return ResultSetFailed
	}
}

// PeerCredentials is what the server captures once per connection via
// SO_PEERCRED and getpeercon (§4.5).
type PeerCredentials struct {
	Pid     int32
	Uid     uint32
	Gid     uint32
	Context string
}

// ControlVerb is the lifecycle action a ctl.* property write requests
// (§4.4 distinguished names).
type ControlVerb string

const (
	CtlStart   ControlVerb = "start"
	CtlStop    ControlVerb = "stop"
	CtlRestart ControlVerb = "restart"
)

// PropServerIface is C5 (§4.5).
type PropServerIface interface {
	Serve() error
	Stop()
}
