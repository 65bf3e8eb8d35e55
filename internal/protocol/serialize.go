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

package protocol

import "strconv"

const crlf = "\r\n"

// Pub renders "PUB <subj> [<reply>] <n>\r\n<payload>\r\n" as one
// contiguous byte slice, so the connection's write mutex can hand the
// transport a single Send call per publish.
func Pub(subject, reply string, payload []byte) []byte {
	buf := make([]byte, 0, len(subject)+len(reply)+len(payload)+32)
	buf = append(buf, "PUB "...)
	buf = append(buf, subject...)
	buf = append(buf, ' ')
	if reply != "" {
		buf = append(buf, reply...)
		buf = append(buf, ' ')
	}
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, crlf...)
	buf = append(buf, payload...)
	buf = append(buf, crlf...)
	return buf
}

// HPub renders "HPUB <subj> [<reply>] <hlen> <tlen>\r\n<hdr><payload>\r\n".
func HPub(subject, reply string, header, payload []byte) []byte {
	total := len(header) + len(payload)
	buf := make([]byte, 0, len(subject)+len(reply)+total+40)
	buf = append(buf, "HPUB "...)
	buf = append(buf, subject...)
	buf = append(buf, ' ')
	if reply != "" {
		buf = append(buf, reply...)
		buf = append(buf, ' ')
	}
	buf = strconv.AppendInt(buf, int64(len(header)), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(total), 10)
	buf = append(buf, crlf...)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, crlf...)
	return buf
}

// Sub renders "SUB <subj> [<queue>] <sid>\r\n".
func Sub(subject, queue, sid string) []byte {
	buf := make([]byte, 0, len(subject)+len(queue)+len(sid)+16)
	buf = append(buf, "SUB "...)
	buf = append(buf, subject...)
	buf = append(buf, ' ')
	if queue != "" {
		buf = append(buf, queue...)
		buf = append(buf, ' ')
	}
	buf = append(buf, sid...)
	buf = append(buf, crlf...)
	return buf
}

// Unsub renders "UNSUB <sid> [<max>]\r\n". max < 0 omits the max field.
func Unsub(sid string, max int) []byte {
	buf := make([]byte, 0, len(sid)+16)
	buf = append(buf, "UNSUB "...)
	buf = append(buf, sid...)
	if max >= 0 {
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(max), 10)
	}
	buf = append(buf, crlf...)
	return buf
}

// Connect renders "CONNECT <json>\r\n" from an already-marshaled JSON
// payload.
func Connect(json []byte) []byte {
	buf := make([]byte, 0, len(json)+16)
	buf = append(buf, "CONNECT "...)
	buf = append(buf, json...)
	buf = append(buf, crlf...)
	return buf
}

// Ping renders "PING\r\n".
func Ping() []byte { return []byte("PING" + crlf) }

// Pong renders "PONG\r\n".
func Pong() []byte { return []byte("PONG" + crlf) }
