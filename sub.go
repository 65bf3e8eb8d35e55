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
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats-ws.go/internal/protocol"
	"github.com/nats-io/nats-ws.go/internal/syncx"
)

// MsgHandler processes messages delivered to an asynchronous
// subscription.
type MsgHandler func(*Msg)

// Subscription represents interest in a subject, optionally scoped to a
// queue group. A Subscription is active from creation until it is
// explicitly removed; once inactive it never dispatches again, and its
// sid is never reused for the lifetime of the owning Conn.
type Subscription struct {
	mu      sync.Mutex
	conn    *Conn
	Subject string
	Queue   string
	sid     string
	handler MsgHandler

	msgs      chan *Msg
	closeOnce sync.Once // guards msgs against a double close raced between Unsubscribe and hitting max
	delivered uint64
	max       uint64 // 0 == unbounded
	active    bool
}

func (s *Subscription) closeMsgs() {
	s.closeOnce.Do(func() { close(s.msgs) })
}

// Sid returns the subscription's wire identifier.
func (s *Subscription) Sid() string { return s.sid }

// IsValid reports whether the subscription is still active.
func (s *Subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unsubscribe removes interest in the subscription's subject. It is a
// no-op if already removed.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	conn := s.conn
	s.mu.Unlock()

	conn.subs.remove(s.sid)
	s.closeMsgs()
	if conn.isClosed() {
		return nil
	}
	return conn.writeProto(protocol.Unsub(s.sid, -1))
}

// AutoUnsubscribe arranges for the subscription to remove itself after
// max messages have been delivered, and tells the server the same via
// UNSUB's optional max field.
func (s *Subscription) AutoUnsubscribe(max int) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrBadSubscription
	}
	s.max = uint64(max)
	conn := s.conn
	s.mu.Unlock()
	return conn.writeProto(protocol.Unsub(s.sid, max))
}

func (s *Subscription) deliverLoop() {
	for m := range s.msgs {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			continue
		}
		s.invoke(h, m)
	}
}

func (s *Subscription) invoke(h MsgHandler, m *Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.conn.reportAsyncError(s, ErrInvalidMsg)
		}
	}()
	h(m)
}

// subRegistry is the connection's concurrent sid -> Subscription
// mapping. Its dispatch method never runs on the read loop's
// goroutine's critical path for user code: each subscription owns a
// buffered channel drained by its own goroutine, so one slow handler
// cannot stall delivery to any other subscription or the read loop
// itself.
type subRegistry struct {
	nextID atomic.Uint64
	subs   syncx.Map[string, *Subscription]
	chanLen int
}

func newSubRegistry(chanLen int) *subRegistry {
	if chanLen <= 0 {
		chanLen = 65536
	}
	return &subRegistry{chanLen: chanLen}
}

func (r *subRegistry) nextSid() string {
	return strconv.FormatUint(r.nextID.Add(1), 10)
}

func (r *subRegistry) add(conn *Conn, subject, queue string, handler MsgHandler) *Subscription {
	sub := &Subscription{
		conn:    conn,
		Subject: subject,
		Queue:   queue,
		sid:     r.nextSid(),
		handler: handler,
		msgs:    make(chan *Msg, r.chanLen),
		active:  true,
	}
	r.subs.Store(sub.sid, sub)
	go sub.deliverLoop()
	return sub
}

// addWithSid registers a new subscription under a caller-chosen sid
// instead of allocating one. Reconnect replay does not use it: a
// surviving subscription stays registered under its sid and replaySubs
// only re-sends its SUB.
func (r *subRegistry) addWithSid(conn *Conn, sid, subject, queue string, handler MsgHandler) *Subscription {
	sub := &Subscription{
		conn:    conn,
		Subject: subject,
		Queue:   queue,
		sid:     sid,
		handler: handler,
		msgs:    make(chan *Msg, r.chanLen),
		active:  true,
	}
	r.subs.Store(sub.sid, sub)
	go sub.deliverLoop()
	return sub
}

func (r *subRegistry) get(sid string) (*Subscription, bool) {
	return r.subs.Load(sid)
}

func (r *subRegistry) remove(sid string) {
	r.subs.Delete(sid)
}

// dispatch hands an inbound message to the subscription named by sid,
// if it is still active. It never blocks on user code: a full channel
// drops the message and reports a slow-consumer error instead of
// stalling the read loop.
func (r *subRegistry) dispatch(sid string, m *Msg) {
	sub, ok := r.subs.Load(sid)
	if !ok {
		return
	}
	sub.mu.Lock()
	active := sub.active
	sub.mu.Unlock()
	if !active {
		return
	}
	m.Sub = sub
	select {
	case sub.msgs <- m:
	default:
		sub.conn.reportAsyncError(sub, ErrSlowConsumer)
	}
	if sub.max > 0 {
		newDelivered := atomic.AddUint64(&sub.delivered, 1)
		if newDelivered >= sub.max {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
			r.remove(sid)
			sub.closeMsgs()
		}
	}
}

// activeSubs returns a stable snapshot of every currently active
// subscription, used to replay SUB after a reconnect.
func (r *subRegistry) activeSubs() []*Subscription {
	var out []*Subscription
	r.subs.Range(func(_ string, sub *Subscription) bool {
		if sub.IsValid() {
			out = append(out, sub)
		}
		return true
	})
	return out
}
