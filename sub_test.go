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
	"testing"
	"time"
)

func testConn(t *testing.T) *Conn {
	t.Helper()
	c := &Conn{opts: GetDefaultOptions()}
	c.status.Store(int32(Closed))
	return c
}

func TestSubRegistryDispatch(t *testing.T) {
	r := newSubRegistry(4)
	c := testConn(t)
	c.subs = r

	received := make(chan *Msg, 1)
	sub := r.add(c, "foo", "", func(m *Msg) { received <- m })
	defer sub.Unsubscribe()

	r.dispatch(sub.Sid(), &Msg{Subject: "foo", Data: []byte("hi")})

	select {
	case m := <-received:
		if string(m.Data) != "hi" {
			t.Fatalf("unexpected payload: %q", m.Data)
		}
		if m.Sub != sub {
			t.Fatal("message Sub not set to owning subscription")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestSubRegistryDispatchUnknownSidIsNoop(t *testing.T) {
	r := newSubRegistry(4)
	r.dispatch("999", &Msg{Subject: "foo"}) // must not panic
}

func TestSubRegistrySlowConsumerDrops(t *testing.T) {
	r := newSubRegistry(1)
	c := testConn(t)
	c.subs = r

	errCh := make(chan error, 4)
	c.opts.AsyncErrorCB = func(_ *Conn, _ *Subscription, err error) { errCh <- err }

	block := make(chan struct{})
	sub := r.add(c, "foo", "", func(m *Msg) { <-block })
	defer func() { close(block); sub.Unsubscribe() }()

	// First message occupies the handler (blocked on <-block). Second
	// fills the one-slot buffer. Third finds the buffer full and drops.
	r.dispatch(sub.Sid(), &Msg{Subject: "foo"})
	time.Sleep(20 * time.Millisecond) // let deliverLoop pick up msg 1
	r.dispatch(sub.Sid(), &Msg{Subject: "foo"})
	r.dispatch(sub.Sid(), &Msg{Subject: "foo"})

	select {
	case err := <-errCh:
		if err != ErrSlowConsumer {
			t.Fatalf("err = %v, want ErrSlowConsumer", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for slow consumer report")
	}
}

func TestSubscriptionAutoUnsubscribe(t *testing.T) {
	r := newSubRegistry(4)
	c := testConn(t)
	c.subs = r

	var count int
	done := make(chan struct{})
	sub := r.add(c, "foo", "", func(m *Msg) {
		count++
		if count == 2 {
			close(done)
		}
	})
	sub.max = 2 // simulate AutoUnsubscribe(2) without a live writeProto

	r.dispatch(sub.Sid(), &Msg{Subject: "foo"})
	r.dispatch(sub.Sid(), &Msg{Subject: "foo"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	time.Sleep(20 * time.Millisecond)
	if sub.IsValid() {
		t.Fatal("subscription should be inactive after reaching max deliveries")
	}
	if _, ok := r.get(sub.Sid()); ok {
		t.Fatal("subscription should have been removed from registry")
	}

	// msgs must be closed so deliverLoop exits instead of leaking.
	select {
	case _, ok := <-sub.msgs:
		if ok {
			t.Fatal("sub.msgs unexpectedly still has a value")
		}
	case <-time.After(time.Second):
		t.Fatal("sub.msgs was not closed after reaching max deliveries")
	}
}

func TestSubRegistryActiveSubsSnapshot(t *testing.T) {
	r := newSubRegistry(4)
	c := testConn(t)
	c.subs = r

	s1 := r.add(c, "a", "", func(*Msg) {})
	s2 := r.add(c, "b", "", func(*Msg) {})
	defer s1.Unsubscribe()

	s2.Unsubscribe()

	active := r.activeSubs()
	if len(active) != 1 || active[0].Sid() != s1.Sid() {
		t.Fatalf("activeSubs = %v, want only %s", active, s1.Sid())
	}
}

func TestSubscriptionUnsubscribeIsIdempotent(t *testing.T) {
	r := newSubRegistry(4)
	c := testConn(t)
	c.subs = r
	sub := r.add(c, "foo", "", func(*Msg) {})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("first Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
}
