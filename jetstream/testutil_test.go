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

package jetstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	natsws "github.com/nats-io/nats-ws.go"
)

// pipeTransport adapts the client end of a connected net.Conn pair (see
// newLoopbackConnPair) to natsws.Transport, letting a test drive both
// sides of the wire protocol in-process.
type pipeTransport struct{ conn net.Conn }

func (t *pipeTransport) Dial(ctx context.Context, url string) error { return nil }

func (t *pipeTransport) Read(ctx context.Context, p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err == nil || n > 0 {
		return n, nil
	}
	return 0, err
}

func (t *pipeTransport) Write(ctx context.Context, p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *pipeTransport) Close() error   { return t.conn.Close() }
func (t *pipeTransport) Connected() bool { return true }

// newLoopbackConnPair returns a connected pair of net.Conn backed by a
// real TCP loopback socket rather than net.Pipe: net.Pipe's Write calls
// block until a peer Read consumes the bytes, which would deadlock a
// client goroutine trying to send a frame before the test has gotten
// around to reading it. A kernel socket buffer lets small protocol
// frames land without a synchronous reader.
func newLoopbackConnPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type dialResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		ch <- dialResult{c, err}
	}()

	server, err = ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	res := <-ch
	if res.err != nil {
		t.Fatalf("dial: %v", res.err)
	}
	return res.conn, server
}

// apiCall is one decoded PUB/HPUB frame sent by the client to a
// JetStream API subject.
type apiCall struct {
	subject string
	reply   string
	header  natsws.Header
	data    []byte
}

// fakeJS drives the server half of a scripted connection good enough to
// exercise the JetStream API client: it completes the NATS handshake,
// then hands every subsequent PUB/HPUB frame to the test as an apiCall.
type fakeJS struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeJSConn(t *testing.T) (*natsws.Conn, *fakeJS) {
	t.Helper()
	client, server := newLoopbackConnPair(t)
	srv := &fakeJS{conn: server, r: bufio.NewReader(server)}

	factory := func() natsws.Transport { return &pipeTransport{conn: client} }

	connCh := make(chan *natsws.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := natsws.Connect("ws://fake", natsws.WithTransport(factory), natsws.Timeout(2*time.Second))
		if err != nil {
			errCh <- err
			return
		}
		connCh <- c
	}()

	fmt.Fprintf(srv.conn, "INFO {\"server_id\":\"srv\",\"headers\":true}\r\n")
	srv.completeHandshake(t)
	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	select {
	case c := <-connCh:
		return c, srv
	case err := <-errCh:
		t.Fatalf("connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}
	return nil, nil
}

func (s *fakeJS) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func (s *fakeJS) completeHandshake(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		line, err := s.readLine()
		if err != nil {
			t.Fatalf("reading handshake line: %v", err)
		}
		if strings.HasPrefix(line, "PING") {
			fmt.Fprintf(s.conn, "PONG\r\n")
			return
		}
	}
}

// nextCall blocks until the client sends one PUB or HPUB frame,
// decoding it into an apiCall.
func (s *fakeJS) nextCall(t *testing.T) *apiCall {
	t.Helper()
	line, err := s.readLine()
	if err != nil {
		t.Fatalf("reading API call line: %v", err)
	}
	fields := strings.Fields(line)
	op := strings.ToUpper(fields[0])
	if op != "PUB" && op != "HPUB" {
		t.Fatalf("unexpected line while awaiting API call: %q", line)
	}

	withHeader := op == "HPUB"
	rest := fields[1:]
	call := &apiCall{subject: rest[0]}

	var hdrLen, totalLen int
	if withHeader {
		if len(rest) == 4 {
			call.reply = rest[1]
			hdrLen, _ = strconv.Atoi(rest[2])
			totalLen, _ = strconv.Atoi(rest[3])
		} else {
			hdrLen, _ = strconv.Atoi(rest[1])
			totalLen, _ = strconv.Atoi(rest[2])
		}
	} else {
		if len(rest) == 3 {
			call.reply = rest[1]
			totalLen, _ = strconv.Atoi(rest[2])
		} else {
			totalLen, _ = strconv.Atoi(rest[1])
		}
	}

	body := make([]byte, totalLen+2) // + trailing CRLF
	if _, err := readFull(s.r, body); err != nil {
		t.Fatalf("reading API call body: %v", err)
	}
	body = body[:totalLen]

	if withHeader {
		hdr, err := decodeTestHeaders(body[:hdrLen])
		if err != nil {
			t.Fatalf("decoding API call headers: %v", err)
		}
		call.header = hdr
		call.data = body[hdrLen:]
	} else {
		call.data = body
	}
	return call
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func decodeTestHeaders(data []byte) (natsws.Header, error) {
	h := natsws.Header{}
	lines := bytes.Split(data, []byte("\r\n"))
	for i, line := range lines {
		if i == 0 || len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(string(line[:idx]))
		val := strings.TrimSpace(string(line[idx+1:]))
		h.Add(key, val)
	}
	return h, nil
}

// replyJSON sends body as a plain MSG reply on subject.
func (s *fakeJS) replyJSON(subject string, body []byte) {
	fmt.Fprintf(s.conn, "MSG %s %d\r\n", subject, len(body))
	s.conn.Write(body)
	fmt.Fprint(s.conn, "\r\n")
}

// replyRaw sends a header block plus a raw payload as an HMSG reply, the
// shape of a successful direct-get response.
func (s *fakeJS) replyRaw(subject string, header, payload []byte) {
	total := len(header) + len(payload)
	fmt.Fprintf(s.conn, "HMSG %s %d %d\r\n", subject, len(header), total)
	s.conn.Write(header)
	s.conn.Write(payload)
	fmt.Fprint(s.conn, "\r\n")
}

func encodeTestHeaders(status string, extra map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("NATS/1.0")
	if status != "" {
		buf.WriteByte(' ')
		buf.WriteString(status)
	}
	buf.WriteString("\r\n")
	for k, v := range extra {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
