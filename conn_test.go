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

package natsws

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// pipeTransport adapts the client end of a connected net.Conn pair (see
// newLoopbackConnPair) to the Transport interface, so tests can drive
// both sides of the wire protocol without a real WebSocket.
type pipeTransport struct {
	conn net.Conn
}

func (t *pipeTransport) Dial(ctx context.Context, url string) error { return nil }

func (t *pipeTransport) Read(ctx context.Context, p []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(dl)
	}
	n, err := t.conn.Read(p)
	if err == nil || n > 0 {
		return n, nil
	}
	if err.Error() == "EOF" {
		return 0, nil
	}
	return 0, err
}

func (t *pipeTransport) Write(ctx context.Context, p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *pipeTransport) Close() error { return t.conn.Close() }

func (t *pipeTransport) Connected() bool { return true }

// fakeServer drives the server half of a scripted connection: it reads
// client-sent lines and lets the test react to them by writing back raw
// protocol bytes.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPipeFactory() (TransportFactory, chan *fakeServer) {
	dials := make(chan *fakeServer, 8)
	factory := func() Transport {
		client, server := newLoopbackConnPair()
		dials <- &fakeServer{conn: server, r: bufio.NewReader(server)}
		return &pipeTransport{conn: client}
	}
	return factory, dials
}

// newLoopbackConnPair returns a connected pair of net.Conn backed by a
// real TCP loopback socket rather than net.Pipe: net.Pipe's Write calls
// block until a peer Read consumes the bytes, which would deadlock a
// client goroutine trying to send a frame (e.g. the shared inbox SUB)
// before the test has gotten around to reading it. A kernel socket
// buffer lets small protocol frames land without a synchronous reader.
func newLoopbackConnPair() (client, server net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
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
		panic(err)
	}
	res := <-ch
	if res.err != nil {
		panic(res.err)
	}
	return res.conn, server
}

func (s *fakeServer) sendInfo(extra string) {
	fmt.Fprintf(s.conn, "INFO {\"server_id\":\"srv\",\"headers\":true%s}\r\n", extra)
}

func (s *fakeServer) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// completeHandshake reads the CONNECT and PING lines sent during a
// handshake and answers with PONG.
func (s *fakeServer) completeHandshake(t *testing.T) {
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
		_ = line // CONNECT {...}
	}
}

func testConnect(t *testing.T, opts ...Option) (*Conn, chan *fakeServer) {
	t.Helper()
	factory, dials := newPipeFactory()
	base := []Option{WithTransport(factory), Timeout(2 * time.Second)}
	base = append(base, opts...)

	connCh := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := Connect("ws://fake", base...)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- c
	}()

	srv := <-dials
	srv.sendInfo("")
	srv.completeHandshake(t)

	select {
	case c := <-connCh:
		dials <- srv
		return c, dials
	case err := <-errCh:
		t.Fatalf("connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}
	return nil, nil
}

func TestConnectHandshake(t *testing.T) {
	c, _ := testConnect(t)
	defer c.Close()
	if c.Status() != Connected {
		t.Fatalf("status = %v, want Connected", c.Status())
	}
}

func TestPublishWritesFrame(t *testing.T) {
	c, dials := testConnect(t)
	defer c.Close()
	srv := <-dials

	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	if err := c.Publish("foo.bar", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	line, err := srv.readLine()
	if err != nil {
		t.Fatalf("reading PUB line: %v", err)
	}
	if !strings.HasPrefix(line, "PUB foo.bar ") {
		t.Fatalf("unexpected PUB line: %q", line)
	}
}

func TestSubscribeDeliversMessage(t *testing.T) {
	c, dials := testConnect(t)
	defer c.Close()
	srv := <-dials

	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	received := make(chan *Msg, 1)
	sub, err := c.Subscribe("events.>", func(m *Msg) { received <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subLine, err := srv.readLine()
	if err != nil {
		t.Fatalf("reading SUB line: %v", err)
	}
	if !strings.HasPrefix(subLine, "SUB events.> ") {
		t.Fatalf("unexpected SUB line: %q", subLine)
	}
	if !strings.HasSuffix(subLine, sub.Sid()) {
		t.Fatalf("SUB line %q does not carry sid %q", subLine, sub.Sid())
	}

	fmt.Fprintf(srv.conn, "MSG events.created %s 5\r\nhello\r\n", sub.Sid())

	select {
	case m := <-received:
		if m.Subject != "events.created" || string(m.Data) != "hello" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRequestReply(t *testing.T) {
	c, dials := testConnect(t)
	defer c.Close()
	srv := <-dials

	// The connection installs its shared inbox subscription during
	// startLoops; drain that SUB line before the request's PUB line.
	subLine, err := srv.readLine()
	if err != nil || !strings.HasPrefix(subLine, "SUB _INBOX.") {
		t.Fatalf("expected inbox SUB line, got %q (err=%v)", subLine, err)
	}

	replyCh := make(chan *Msg, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m, err := c.Request(ctx, "svc.echo", []byte("ping"))
		if err != nil {
			t.Errorf("Request: %v", err)
			return
		}
		replyCh <- m
	}()

	pubLine, err := srv.readLine()
	if err != nil {
		t.Fatalf("reading PUB line: %v", err)
	}
	fields := strings.Fields(pubLine)
	if len(fields) != 4 || fields[0] != "PUB" || fields[1] != "svc.echo" {
		t.Fatalf("unexpected PUB line: %q", pubLine)
	}
	inbox := fields[2]

	fmt.Fprintf(srv.conn, "MSG %s 1 4\r\npong\r\n", inbox)

	select {
	case m := <-replyCh:
		if string(m.Data) != "pong" {
			t.Fatalf("unexpected reply payload: %q", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestReconnectPreservesSid(t *testing.T) {
	c, dials := testConnect(t, ReconnectWait(10*time.Millisecond), ReconnectJitter(0))
	defer c.Close()
	srv1 := <-dials

	if _, err := srv1.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	sub, err := c.Subscribe("orders.>", func(*Msg) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := srv1.readLine(); err != nil { // SUB orders.>
		t.Fatalf("reading initial SUB line: %v", err)
	}

	// Simulate a dropped link: closing the server side ends the read
	// loop with an error, driving the connection into Reconnecting.
	srv1.conn.Close()

	srv2 := <-dials
	srv2.sendInfo("")
	srv2.completeHandshake(t)

	deadline := time.After(2 * time.Second)
	for {
		line, err := srv2.readLine()
		if err != nil {
			t.Fatalf("reading post-reconnect line: %v", err)
		}
		if strings.HasPrefix(line, "SUB orders.> ") {
			if !strings.HasSuffix(line, sub.Sid()) {
				t.Fatalf("replayed SUB line %q does not carry original sid %q", line, sub.Sid())
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for replayed SUB line")
		default:
		}
	}

	if c.Status() != Connected {
		t.Fatalf("status = %v, want Connected after reconnect", c.Status())
	}
}

// TestReconnectDropsStaleInboxSub verifies a reconnect discards the
// previous generation's wildcard inbox subscription instead of
// accumulating one per reconnect.
func TestReconnectDropsStaleInboxSub(t *testing.T) {
	c, dials := testConnect(t, ReconnectWait(10*time.Millisecond), ReconnectJitter(0))
	defer c.Close()
	srv1 := <-dials

	srv1.conn.Close()

	srv2 := <-dials
	srv2.sendInfo("")
	srv2.completeHandshake(t)
	if _, err := srv2.readLine(); err != nil { // fresh inbox SUB
		t.Fatalf("reading post-reconnect inbox SUB line: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Status() != Connected {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for reconnect to complete")
		}
		time.Sleep(time.Millisecond)
	}

	var inboxSubs int
	for _, sub := range c.subs.activeSubs() {
		if strings.HasPrefix(sub.Subject, InboxPrefix) {
			inboxSubs++
		}
	}
	if inboxSubs != 1 {
		t.Fatalf("active inbox subscriptions after reconnect = %d, want 1", inboxSubs)
	}
}

// TestLinkDownFailsPendingRequest verifies a request in flight when the
// transport dies fails with a connection-lost error instead of the
// no-responders error reserved for an unmatched subject.
func TestLinkDownFailsPendingRequest(t *testing.T) {
	c, dials := testConnect(t, NoReconnect())
	defer c.Close()
	srv := <-dials

	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.Request(ctx, "svc.nobody", []byte("ping"))
		errCh <- err
	}()

	if _, err := srv.readLine(); err != nil { // PUB carrying the request
		t.Fatalf("reading request PUB line: %v", err)
	}
	srv.conn.Close()

	select {
	case err := <-errCh:
		if err != ErrConnectionClosed {
			t.Fatalf("err = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending request to fail on link down")
	}
}

// TestLinkDownFailsFlush verifies a blocked Flush unblocks immediately
// with a connection-lost error instead of waiting out its own timeout.
func TestLinkDownFailsFlush(t *testing.T) {
	c, dials := testConnect(t, NoReconnect())
	defer c.Close()
	srv := <-dials

	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errCh <- c.Flush(ctx)
	}()

	if _, err := srv.readLine(); err != nil { // PING
		t.Fatalf("reading PING line: %v", err)
	}
	srv.conn.Close()

	select {
	case err := <-errCh:
		if err != ErrConnectionClosed {
			t.Fatalf("err = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Flush to fail on link down")
	}
}

func TestRequestNoResponders(t *testing.T) {
	c, dials := testConnect(t)
	defer c.Close()
	srv := <-dials

	if _, err := srv.readLine(); err != nil { // inbox SUB
		t.Fatalf("reading inbox SUB line: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.Request(ctx, "svc.nobody", []byte("ping"))
		errCh <- err
	}()

	pubLine, err := srv.readLine()
	if err != nil {
		t.Fatalf("reading PUB line: %v", err)
	}
	fields := strings.Fields(pubLine)
	inbox := fields[2]

	hdr := "NATS/1.0 503\r\n\r\n"
	fmt.Fprintf(srv.conn, "HMSG %s 1 %d %d\r\n%s\r\n", inbox, len(hdr), len(hdr), hdr)

	select {
	case err := <-errCh:
		if err != ErrNoResponders {
			t.Fatalf("err = %v, want ErrNoResponders", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for no-responders error")
	}
}
