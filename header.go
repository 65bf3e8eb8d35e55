// Copyright 2021-2024 The NATS Authors
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

package natsws

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrBadHeader is returned when a header block cannot be decoded.
var ErrBadHeader = errors.New("natsws: could not decode message headers")

const (
	hdrLine            = "NATS/1.0"
	crlf               = "\r\n"
	statusHdr          = "Status"
	descrHdr           = "Description"
	noRespondersStatus = "503"
)

func canonicalHeaderKey(key string) string {
	return textproto.CanonicalMIMEHeaderKey(key)
}

// encodeHeaders renders h in wire form: "NATS/1.0[ <code>[ <desc>]]\r\n"
// followed by "<k>: <v>\r\n" pairs and a trailing blank line. The values
// of one key are written in the order they were added; distinct keys
// are written in Go map iteration order, which is not defined.
// Status/Description are folded back onto the preface line rather than
// emitted as ordinary header pairs.
func encodeHeaders(h Header) []byte {
	var buf bytes.Buffer
	buf.WriteString(hdrLine)
	if code := h.Get(statusHdr); code != "" {
		buf.WriteByte(' ')
		buf.WriteString(code)
		if desc := h.Get(descrHdr); desc != "" {
			buf.WriteByte(' ')
			buf.WriteString(desc)
		}
	}
	buf.WriteString(crlf)
	for k, values := range h {
		if k == statusHdr || k == descrHdr {
			continue
		}
		for _, v := range values {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString(crlf)
		}
	}
	buf.WriteString(crlf)
	return buf.Bytes()
}

// decodeHeaders parses a wire header block (without the surrounding
// PUB/HPUB framing) into a Header. The first line must begin with
// "NATS/1.0"; any trailing tokens on that line are the optional status
// code and description.
func decodeHeaders(data []byte) (Header, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	line, err := tp.ReadLine()
	if err != nil || !strings.HasPrefix(line, hdrLine) {
		return nil, ErrBadHeader
	}

	h := Header{}
	if rest := strings.TrimSpace(line[len(hdrLine):]); rest != "" {
		fields := strings.SplitN(rest, " ", 2)
		code := fields[0]
		if _, err := strconv.Atoi(code); err != nil {
			return nil, fmt.Errorf("%w: bad status code %q", ErrBadHeader, code)
		}
		h.Set(statusHdr, code)
		if len(fields) == 2 && strings.TrimSpace(fields[1]) != "" {
			h.Set(descrHdr, strings.TrimSpace(fields[1]))
		}
	}

	for {
		kv, err := tp.ReadLine()
		if err != nil {
			break
		}
		if kv == "" {
			break
		}
		i := strings.IndexByte(kv, ':')
		if i < 0 {
			return nil, ErrBadHeader
		}
		key := strings.TrimSpace(kv[:i])
		if key == "" {
			continue
		}
		h.Add(key, strings.TrimSpace(kv[i+1:]))
	}
	return h, nil
}
