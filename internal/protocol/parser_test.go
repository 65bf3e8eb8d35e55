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

import (
	"bytes"
	"testing"
)

func drain(t *testing.T, b *Buffer) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		f, ok, err := b.TryParse()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestParsePingPong(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("PING\r\nPONG\r\n"))
	frames := drain(t, b)
	if len(frames) != 2 || frames[0].Kind != KindPing || frames[1].Kind != KindPong {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if b.Pending() != 0 {
		t.Fatalf("expected buffer fully drained, pending=%d", b.Pending())
	}
}

func TestParseOkErrInfo(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("+OK\r\n-ERR 'Authorization Violation'\r\nINFO {\"server_id\":\"x\"}\r\n"))
	frames := drain(t, b)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Kind != KindOK {
		t.Fatalf("expected OK, got %v", frames[0].Kind)
	}
	if frames[1].Kind != KindErr || frames[1].ErrText != "Authorization Violation" {
		t.Fatalf("unexpected err frame: %+v", frames[1])
	}
	if frames[2].Kind != KindInfo || string(frames[2].Info) != `{"server_id":"x"}` {
		t.Fatalf("unexpected info frame: %+v", frames[2])
	}
}

func TestParseMsgWithAndWithoutReply(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("MSG foo.bar 9 5\r\nhello\r\nMSG foo.bar 9 inbox.1 5\r\nworld\r\n"))
	frames := drain(t, b)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	m0 := frames[0]
	if m0.Kind != KindMsg || m0.Subject != "foo.bar" || m0.Sid != "9" || m0.Reply != "" || string(m0.Payload) != "hello" {
		t.Fatalf("unexpected frame: %+v", m0)
	}
	m1 := frames[1]
	if m1.Reply != "inbox.1" || string(m1.Payload) != "world" {
		t.Fatalf("unexpected frame: %+v", m1)
	}
}

func TestParseHMsg(t *testing.T) {
	hdr := "NATS/1.0\r\nFoo: Bar\r\n\r\n"
	payload := "world"
	total := len(hdr) + len(payload)
	wire := []byte("HMSG foo.bar 9 inbox.1 " + itoa(len(hdr)) + " " + itoa(total) + "\r\n" + hdr + payload + "\r\n")

	b := NewBuffer()
	b.Append(wire)
	frames := drain(t, b)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Kind != KindHMsg || f.Subject != "foo.bar" || f.Sid != "9" || f.Reply != "inbox.1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if !bytes.Equal(f.HeaderBytes, []byte(hdr)) {
		t.Fatalf("unexpected header bytes: %q", f.HeaderBytes)
	}
	if string(f.Payload) != payload {
		t.Fatalf("unexpected payload: %q", f.Payload)
	}
}

func TestIncompletePrefixConsumesNothing(t *testing.T) {
	full := []byte("MSG foo.bar 1 5\r\nhello\r\n")
	for i := 1; i < len(full); i++ {
		b := NewBuffer()
		b.Append(full[:i])
		f, ok, err := b.TryParse()
		if err != nil {
			t.Fatalf("prefix len %d: unexpected error %v", i, err)
		}
		if ok {
			t.Fatalf("prefix len %d: expected incomplete, got frame %+v", i, f)
		}
		if b.rpos != 0 {
			t.Fatalf("prefix len %d: read cursor advanced on incomplete parse", i)
		}
	}
}

func TestIncompleteThenComplete(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("MSG foo 1 5\r\nhel"))
	if _, ok, _ := b.TryParse(); ok {
		t.Fatalf("expected incomplete")
	}
	b.Append([]byte("lo\r\n"))
	f, ok, err := b.TryParse()
	if err != nil || !ok {
		t.Fatalf("expected complete frame, ok=%v err=%v", ok, err)
	}
	if string(f.Payload) != "hello" {
		t.Fatalf("unexpected payload %q", f.Payload)
	}
}

func TestMalformedMsgResyncs(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("MSG only-two-tokens\r\nPING\r\n"))
	frames := drain(t, b)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames (err + ping), got %d: %+v", len(frames), frames)
	}
	if frames[0].Kind != KindErr {
		t.Fatalf("expected err frame first, got %v", frames[0].Kind)
	}
	if frames[1].Kind != KindPing {
		t.Fatalf("expected resync to next frame, got %v", frames[1].Kind)
	}
}

func TestMalformedByteCountResyncs(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("MSG foo.bar 1 notanumber\r\nPONG\r\n"))
	frames := drain(t, b)
	if len(frames) != 2 || frames[0].Kind != KindErr || frames[1].Kind != KindPong {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestBufferGrowsAndCompacts(t *testing.T) {
	b := NewBuffer()
	big := bytes.Repeat([]byte("a"), minBufSize*3)
	// The leading PING is parsed off first, leaving consumed bytes at the
	// front of the buffer for later appends to compact away.
	wire := append([]byte("PING\r\nMSG s 1 "+itoa(len(big))+"\r\n"), big...)
	wire = append(wire, '\r', '\n')
	// Feed in small chunks, parsing after each, to exercise compaction
	// and growth together.
	var frames []*Frame
	for i := 0; i < len(wire); i += 37 {
		end := i + 37
		if end > len(wire) {
			end = len(wire)
		}
		b.Append(wire[i:end])
		frames = append(frames, drain(t, b)...)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Kind != KindPing {
		t.Fatalf("expected PING first, got %v", frames[0].Kind)
	}
	if !bytes.Equal(frames[1].Payload, big) {
		t.Fatalf("payload corrupted across growth/compaction")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
