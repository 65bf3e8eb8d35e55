// Copyright 2012-2024 The NATS Authors
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
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats-ws.go/internal/protocol"
)

// Conn is a single session against a NATS server over an injected
// Transport. It owns one parse buffer, one subscription registry, one
// inbox prefix, and the set of pending request promises keyed by reply
// subject. The zero value is not usable; obtain a Conn via Connect.
type Conn struct {
	opts Options

	mu        sync.RWMutex
	status    atomic.Int32
	transport Transport
	info      ServerInfo

	sendMu sync.Mutex
	buf    *protocol.Buffer

	subs    *subRegistry
	respMux *respMux
	respSub *Subscription

	stats atomicStats

	pingOut   atomic.Int32
	pongCh    chan struct{}
	closeOnce sync.Once
	closeCh   chan struct{}
	down      *downSignal // tripped once per generation when the link is lost

	loopWG sync.WaitGroup
	gen    atomic.Uint64 // bumped on Close/reconnect, tags loop goroutines
}

// downSignal broadcasts loss of the current transport generation to
// anyone blocked waiting on a reply or a flush. trip is safe to call
// more than once, since the read loop and the keepalive loop can both
// observe the same broken transport; only the first call's err sticks.
type downSignal struct {
	ch   chan struct{}
	once sync.Once
	err  atomic.Value
}

func newDownSignal() *downSignal {
	return &downSignal{ch: make(chan struct{})}
}

func (d *downSignal) trip(err error) {
	d.once.Do(func() {
		d.err.Store(err)
		close(d.ch)
	})
}

func (d *downSignal) cause() error {
	if v := d.err.Load(); v != nil {
		return v.(error)
	}
	return ErrDisconnected
}

// Connect dials a server and completes the CONNECT/PING/PONG handshake,
// returning a live Conn on success. The Transport is not optional: a
// caller must supply one via WithTransport.
func Connect(url string, options ...Option) (*Conn, error) {
	opts := GetDefaultOptions()
	opts.Url = url
	for _, o := range options {
		if err := o(&opts); err != nil {
			return nil, err
		}
	}
	return connectWithOptions(opts)
}

func connectWithOptions(opts Options) (*Conn, error) {
	if opts.Transport == nil {
		return nil, ErrNoServers
	}
	c := &Conn{
		opts:    opts,
		buf:     protocol.NewBuffer(),
		subs:    newSubRegistry(opts.SubChanLen),
		closeCh: make(chan struct{}),
		down:    newDownSignal(),
	}
	c.status.Store(int32(Disconnected))

	if err := c.doHandshake(); err != nil {
		return nil, err
	}
	c.setStatus(Connected)
	c.startLoops()
	return c, nil
}

func (c *Conn) doHandshake() error {
	c.setStatus(Connecting)
	tr := c.opts.Transport()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()
	if err := tr.Dial(ctx, c.opts.Url); err != nil {
		return fmt.Errorf("natsws: dial: %w", err)
	}

	c.mu.Lock()
	c.transport = tr
	c.mu.Unlock()

	info, err := c.readInfo(ctx)
	if err != nil {
		tr.Close()
		return err
	}
	c.mu.Lock()
	c.info = *info
	c.mu.Unlock()

	root, err := newInboxRoot()
	if err != nil {
		tr.Close()
		return err
	}
	c.respMux = newRespMux(root)

	if err := c.sendConnect(ctx, info); err != nil {
		tr.Close()
		return err
	}
	if err := c.waitForHandshakePong(ctx); err != nil {
		tr.Close()
		return err
	}
	return nil
}

func (c *Conn) sendConnect(ctx context.Context, info *ServerInfo) error {
	auth := AuthInfo{}
	var err error
	if c.opts.Auth != nil {
		auth, err = c.opts.Auth.Authenticate(info.Nonce)
		if err != nil {
			return err
		}
	}
	ci := &connectInfo{
		Verbose:      false,
		Pedantic:     false,
		UserJWT:      auth.JWT,
		Nkey:         auth.Nkey,
		Signature:    auth.Signature,
		User:         auth.User,
		Pass:         auth.Pass,
		Token:        auth.Token,
		TLS:          strings.HasPrefix(c.opts.Url, "wss://"),
		Name:         c.opts.Name,
		Lang:         LangString,
		Version:      Version,
		Protocol:     1,
		Echo:         true,
		Headers:      c.opts.UseHeaders && info.Headers,
		NoResponders: c.opts.NoResponders && info.Headers,
	}
	payload, err := ci.marshal()
	if err != nil {
		return err
	}
	if err := c.rawWrite(ctx, protocol.Connect(payload)); err != nil {
		return err
	}
	return c.rawWrite(ctx, protocol.Ping())
}

// readInfo blocks until the server's initial INFO frame is fully
// parsed, feeding raw bytes into the shared parse buffer as they
// arrive.
func (c *Conn) readInfo(ctx context.Context) (*ServerInfo, error) {
	tmp := make([]byte, DefaultReceiveBufSize)
	for {
		if f, ok, err := c.buf.TryParse(); err != nil {
			return nil, err
		} else if ok {
			if f.Kind != protocol.KindInfo {
				return nil, ErrHandshakeFailed
			}
			var info ServerInfo
			if err := json.Unmarshal(f.Info, &info); err != nil {
				return nil, ErrHandshakeFailed
			}
			return &info, nil
		}
		n, err := c.transport.Read(ctx, tmp)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrHandshakeFailed
		}
		c.buf.Append(tmp[:n])
	}
}

// waitForHandshakePong reads and discards frames until the server's
// PONG (or a -ERR that fails the handshake outright) arrives. Any
// frames pipelined behind the PONG stay in the shared buffer for the
// read loop to pick up.
func (c *Conn) waitForHandshakePong(ctx context.Context) error {
	tmp := make([]byte, DefaultReceiveBufSize)
	for {
		f, ok, err := c.buf.TryParse()
		if err != nil {
			return err
		}
		if ok {
			switch f.Kind {
			case protocol.KindPong:
				return nil
			case protocol.KindErr:
				return classifyServerErr(f.ErrText)
			default:
				continue
			}
		}
		n, err := c.transport.Read(ctx, tmp)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrHandshakeFailed
		}
		c.buf.Append(tmp[:n])
	}
}

func classifyServerErr(text string) error {
	if isAuthError(text) {
		return ErrAuthorization
	}
	return &ServerError{Text: text}
}

func isAuthError(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "auth") || strings.Contains(lower, "permission")
}

// startLoops (re)installs the shared reply-subject listener and starts
// the read and keep-alive tasks tagged with the connection's current
// generation, so a stale loop from a superseded transport notices it
// has been superseded and exits instead of racing the new one.
func (c *Conn) startLoops() {
	c.pongCh = make(chan struct{}, 1)
	gen := c.gen.Load()

	if c.respSub != nil {
		c.subs.remove(c.respSub.sid)
	}
	c.respSub = c.subs.add(c, c.respMux.wildcardSubject(), "", c.respMux.onMsg)
	c.writeProto(protocol.Sub(c.respSub.Subject, "", c.respSub.sid))

	c.loopWG.Add(2)
	go c.readLoop(gen)
	go c.keepAliveLoop(gen)
}

func (c *Conn) readLoop(gen uint64) {
	defer c.loopWG.Done()
	tmp := make([]byte, DefaultReceiveBufSize)
	for {
		if c.gen.Load() != gen {
			return
		}
		tr := c.currentTransport()
		if tr == nil {
			return
		}
		n, err := tr.Read(context.Background(), tmp)
		if err != nil || n == 0 {
			c.handleLinkDown(gen, err)
			return
		}
		c.buf.Append(tmp[:n])
		for {
			f, ok, perr := c.buf.TryParse()
			if perr != nil {
				c.reportAsyncError(nil, perr)
				continue
			}
			if !ok {
				break
			}
			c.handleFrame(f)
		}
	}
}

func (c *Conn) currentTransport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *Conn) handleFrame(f *protocol.Frame) {
	switch f.Kind {
	case protocol.KindPing:
		c.writeProto(protocol.Pong())
	case protocol.KindPong:
		c.pingOut.Store(0)
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
	case protocol.KindOK:
		// no-op; verbose mode is never enabled by this client.
	case protocol.KindErr:
		c.reportAsyncError(nil, classifyServerErr(f.ErrText))
	case protocol.KindInfo:
		var info ServerInfo
		if json.Unmarshal(f.Info, &info) == nil {
			c.mu.Lock()
			c.info = info
			c.mu.Unlock()
		}
	case protocol.KindMsg, protocol.KindHMsg:
		c.deliverMsg(f)
	}
}

func (c *Conn) deliverMsg(f *protocol.Frame) {
	m := &Msg{Subject: f.Subject, Reply: f.Reply, Data: f.Payload}
	if f.Kind == protocol.KindHMsg {
		h, err := decodeHeaders(f.HeaderBytes)
		if err != nil {
			c.reportAsyncError(nil, err)
			return
		}
		m.Header = h
	}
	c.stats.inMsgs.Add(1)
	c.stats.inBytes.Add(uint64(len(f.Payload)))
	c.subs.dispatch(f.Sid, m)
}

// handleLinkDown fires once per broken transport: pending requests and
// flush waiters fail immediately with a connection-lost error, and,
// unless the Conn was explicitly closed, the reconnect loop takes over.
func (c *Conn) handleLinkDown(gen uint64, err error) {
	if c.gen.Load() != gen {
		return
	}
	if c.isUserClosed() {
		return
	}
	c.mu.RLock()
	down := c.down
	c.mu.RUnlock()

	if c.opts.DisconnectedErrCB != nil {
		c.opts.DisconnectedErrCB(c, err)
	}

	if !c.opts.AllowReconnect {
		down.trip(ErrConnectionClosed)
		c.failPending(ErrConnectionClosed)
		c.setStatus(Disconnected)
		c.finalClose()
		return
	}
	down.trip(ErrConnectionReconnect)
	c.failPending(ErrConnectionReconnect)
	c.setStatus(Reconnecting)
	go c.reconnectLoop()
}

// failPending fails every outstanding request with err. Flush waiters
// are failed separately, through down.
func (c *Conn) failPending(err error) {
	c.respMux.pending.Range(func(subject string, h *respHandler) bool {
		h.deliverErr(err)
		return true
	})
}

func (c *Conn) keepAliveLoop(gen uint64) {
	defer c.loopWG.Done()
	if c.opts.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if c.gen.Load() != gen {
				return
			}
			out := c.pingOut.Add(1)
			if int(out) > c.opts.MaxPingsOut {
				if tr := c.currentTransport(); tr != nil {
					tr.Close()
				}
				return
			}
			c.writeProto(protocol.Ping())
		case <-c.closeCh:
			return
		}
	}
}

// reconnectLoop implements the exponential backoff with jitter: base
// delay doubling each attempt up to a cap, uniform jitter bounded by
// ReconnectJitter applied per attempt, attempt count bounded unless
// MaxReconnect is negative.
func (c *Conn) reconnectLoop() {
	delay := c.opts.ReconnectWait
	attempts := 0
	for {
		if c.isUserClosed() {
			return
		}
		if c.opts.MaxReconnect >= 0 && attempts >= c.opts.MaxReconnect {
			c.setStatus(Disconnected)
			c.finalClose()
			return
		}
		attempts++

		wait := delay
		if c.opts.ReconnectJitter > 0 {
			jitter := time.Duration(rand.Int63n(int64(c.opts.ReconnectJitter)*2)) - c.opts.ReconnectJitter
			wait += jitter
			if wait < 0 {
				wait = 0
			}
		}
		select {
		case <-time.After(wait):
		case <-c.closeCh:
			return
		}
		delay *= 2
		if delay > c.opts.MaxReconnectWait {
			delay = c.opts.MaxReconnectWait
		}

		if err := c.attemptReconnect(); err != nil {
			continue
		}
		c.gen.Add(1)
		c.setStatus(Connected)
		c.pingOut.Store(0)
		c.startLoops()
		c.replaySubs()
		if c.opts.ReconnectedCB != nil {
			c.opts.ReconnectedCB(c)
		}
		return
	}
}

func (c *Conn) attemptReconnect() error {
	tr := c.opts.Transport()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()
	if err := tr.Dial(ctx, c.opts.Url); err != nil {
		return err
	}
	c.mu.Lock()
	c.transport = tr
	c.down = newDownSignal()
	c.mu.Unlock()
	c.buf = protocol.NewBuffer()

	root, err := newInboxRoot()
	if err != nil {
		tr.Close()
		return err
	}
	info, err := c.readInfo(ctx)
	if err != nil {
		tr.Close()
		return err
	}
	c.mu.Lock()
	c.info = *info
	c.mu.Unlock()
	c.respMux = newRespMux(root)

	if err := c.sendConnect(ctx, info); err != nil {
		tr.Close()
		return err
	}
	if err := c.waitForHandshakePong(ctx); err != nil {
		tr.Close()
		return err
	}
	c.stats.reconnects.Add(1)
	return nil
}

// replaySubs re-issues SUB for every subscription that survived the
// reconnect, preserving its original sid so in-flight AutoUnsubscribe
// counters and caller-held Subscription values remain valid. The sid
// counter is never reset across a reconnect, so newly created
// subscriptions afterward cannot collide with a replayed sid.
func (c *Conn) replaySubs() {
	for _, sub := range c.subs.activeSubs() {
		if sub == c.respSub {
			continue
		}
		c.subs.subs.Store(sub.sid, sub)
		c.writeProto(protocol.Sub(sub.Subject, sub.Queue, sub.sid))
		if sub.max > 0 {
			remaining := int(sub.max - atomic.LoadUint64(&sub.delivered))
			c.writeProto(protocol.Unsub(sub.sid, remaining))
		}
	}
}

func (c *Conn) rawWrite(ctx context.Context, b []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	tr := c.currentTransport()
	if tr == nil {
		return ErrDisconnected
	}
	if err := tr.Write(ctx, b); err != nil {
		return err
	}
	c.stats.outBytes.Add(uint64(len(b)))
	return nil
}

// writeProto writes a pre-serialized command, failing fast per the
// documented behavior for calls made while Reconnecting or Closed.
func (c *Conn) writeProto(b []byte) error {
	switch c.Status() {
	case Closed:
		return ErrConnectionClosed
	case Reconnecting, Connecting:
		return ErrConnectionReconnect
	case Disconnected:
		return ErrDisconnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	return c.rawWrite(ctx, b)
}

// Publish sends data to subject with no reply subject and no headers.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.publish(subject, "", nil, data)
}

// PublishRequest sends data to subject, asking replies be sent to reply.
func (c *Conn) PublishRequest(subject, reply string, data []byte) error {
	return c.publish(subject, reply, nil, data)
}

// PublishMsg sends m, using HPUB when m carries headers.
func (c *Conn) PublishMsg(m *Msg) error {
	if m == nil || m.Subject == "" {
		return ErrBadSubject
	}
	return c.publish(m.Subject, m.Reply, m.Header, m.Data)
}

func (c *Conn) publish(subject, reply string, h Header, data []byte) error {
	if subject == "" {
		return ErrBadSubject
	}
	switch c.Status() {
	case DrainingSubs, DrainingPubs:
		return ErrConnectionDraining
	}
	c.stats.outMsgs.Add(1)
	if len(h) == 0 {
		return c.writeProto(protocol.Pub(subject, reply, data))
	}
	if !c.opts.UseHeaders {
		return ErrInvalidMsg
	}
	return c.writeProto(protocol.HPub(subject, reply, encodeHeaders(h), data))
}

// Subscribe registers cb to run for every message delivered on subject.
func (c *Conn) Subscribe(subject string, cb MsgHandler) (*Subscription, error) {
	return c.subscribe(subject, "", cb)
}

// QueueSubscribe registers cb in queue group queue: exactly one member
// of the group receives each matching message.
func (c *Conn) QueueSubscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	return c.subscribe(subject, queue, cb)
}

func (c *Conn) subscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	if subject == "" || cb == nil {
		return nil, ErrBadSubscription
	}
	sub := c.subs.add(c, subject, queue, cb)
	if err := c.writeProto(protocol.Sub(subject, queue, sub.sid)); err != nil {
		c.subs.remove(sub.sid)
		return nil, err
	}
	return sub, nil
}

// Request sends data to subject and waits for a single reply, or fails
// with ErrNoResponders, ErrTimeout, or ctx's error. When ctx carries no
// deadline, the wait is bounded by Options.RequestTimeout.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) (*Msg, error) {
	return c.RequestMsg(ctx, &Msg{Subject: subject, Data: data})
}

// RequestMsg is Request with full control over the outgoing message,
// including headers.
func (c *Conn) RequestMsg(ctx context.Context, m *Msg) (*Msg, error) {
	if m == nil || m.Subject == "" {
		return nil, ErrBadSubject
	}
	if c.respMux == nil {
		return nil, ErrDisconnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	inbox := c.respMux.newInbox()
	if err := c.publish(m.Subject, inbox, m.Header, m.Data); err != nil {
		return nil, err
	}
	return c.respMux.waitFor(ctx, inbox)
}

// Flush round-trips a PING/PONG so the caller knows every prior write
// has reached the server. It fails immediately, instead of waiting out
// ctx, if the link goes down or the Conn is closed while it waits.
func (c *Conn) Flush(ctx context.Context) error {
	if err := c.writeProto(protocol.Ping()); err != nil {
		return err
	}
	c.mu.RLock()
	down := c.down
	c.mu.RUnlock()
	select {
	case <-c.pongCh:
		return nil
	case <-down.ch:
		return down.cause()
	case <-c.closeCh:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ErrTimeout
	}
}

// FlushTimeout is Flush bounded by a plain duration.
func (c *Conn) FlushTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Flush(ctx)
}

// Status reports the connection's current lifecycle state.
func (c *Conn) Status() Status { return Status(c.status.Load()) }

// Stats returns a point-in-time snapshot of the connection's counters.
func (c *Conn) Stats() Stats { return c.stats.snapshot() }

// ConnectedServerInfo returns the most recently received INFO payload.
func (c *Conn) ConnectedServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Conn) setStatus(s Status) {
	old := Status(c.status.Swap(int32(s)))
	if old == s {
		return
	}
	if c.opts.StatusChangeCB != nil {
		c.opts.StatusChangeCB(c, s)
	}
}

func (c *Conn) isUserClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Conn) isClosed() bool { return c.Status() == Closed }

func (c *Conn) reportAsyncError(sub *Subscription, err error) {
	if c.opts.AsyncErrorCB != nil {
		c.opts.AsyncErrorCB(c, sub, err)
	}
}

// Close tears the connection down immediately: the transport is
// closed, no further reconnect is attempted, and Closed becomes
// terminal for this Conn.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.gen.Add(1)
		c.setStatus(Closed)
		if tr := c.currentTransport(); tr != nil {
			tr.Close()
		}
		if c.opts.ClosedCB != nil {
			c.opts.ClosedCB(c)
		}
	})
}

func (c *Conn) finalClose() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if tr := c.currentTransport(); tr != nil {
			tr.Close()
		}
		if c.opts.ClosedCB != nil {
			c.opts.ClosedCB(c)
		}
	})
}

// Drain unsubscribes every active subscription, waits (up to
// DrainTimeout) for their dispatch channels to empty, and then closes
// the connection. New Publish/Request calls made after Drain begins
// fail fast with ErrConnectionDraining.
func (c *Conn) Drain() error {
	c.setStatus(DrainingSubs)
	subs := c.subs.activeSubs()
	for _, s := range subs {
		if s == c.respSub {
			continue
		}
		s.Unsubscribe()
	}

	deadline := time.After(c.opts.DrainTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
waitLoop:
	for anyPending(subs) {
		select {
		case <-ticker.C:
		case <-deadline:
			break waitLoop
		}
	}

	c.setStatus(DrainingPubs)
	c.Flush(context.Background())
	c.Close()
	return nil
}

func anyPending(subs []*Subscription) bool {
	for _, s := range subs {
		if len(s.msgs) > 0 {
			return true
		}
	}
	return false
}

// NewInbox mints a unique reply-style subject under this connection's
// inbox root, usable for ad hoc point-to-point subjects outside of
// Request/RequestMsg.
func (c *Conn) NewInbox() string {
	if c.respMux == nil {
		return InboxPrefix + strconv.FormatUint(rand.Uint64(), 36)
	}
	return c.respMux.newInbox()
}
