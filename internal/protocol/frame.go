// Copyright 2024 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package protocol implements the incremental parser and serializer for
// the NATS text wire protocol (PING, PONG, +OK, -ERR, INFO, MSG, HMSG,
// and the client-to-server PUB/HPUB/SUB/UNSUB/CONNECT commands).
package protocol

// Kind tags the variant carried by a Frame.
type Kind int

const (
	KindPing Kind = iota
	KindPong
	KindOK
	KindErr
	KindInfo
	KindMsg
	KindHMsg
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindOK:
		return "+OK"
	case KindErr:
		return "-ERR"
	case KindInfo:
		return "INFO"
	case KindMsg:
		return "MSG"
	case KindHMsg:
		return "HMSG"
	default:
		return "UNKNOWN"
	}
}

// Frame is a single parsed inbound protocol unit. Only the fields
// relevant to Kind are populated.
type Frame struct {
	Kind Kind

	// KindErr
	ErrText string

	// KindInfo
	Info []byte

	// KindMsg, KindHMsg
	Subject string
	Sid     string
	Reply   string
	// HeaderBytes holds the raw "NATS/1.0...\r\n\r\n" block for HMsg,
	// unparsed -- the caller decodes it with whatever Header type it owns.
	HeaderBytes []byte
	Payload     []byte
}
