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
	"context"
	"strings"
	"testing"
	"time"
)

func TestRespMuxNewInboxUniqueUnderRoot(t *testing.T) {
	rm := newRespMux("root123")
	a := rm.newInbox()
	b := rm.newInbox()
	if a == b {
		t.Fatalf("expected distinct inboxes, got %q twice", a)
	}
	if !strings.HasPrefix(a, InboxPrefix+"root123.") {
		t.Fatalf("inbox %q missing expected prefix", a)
	}
	if !strings.HasPrefix(rm.wildcardSubject(), InboxPrefix+"root123.") {
		t.Fatalf("wildcard subject %q missing expected prefix", rm.wildcardSubject())
	}
}

func TestRespMuxDeliverAndWait(t *testing.T) {
	rm := newRespMux("root")
	subject := rm.newInbox()

	go func() {
		time.Sleep(10 * time.Millisecond)
		rm.onMsg(&Msg{Subject: subject, Data: []byte("pong")})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := rm.waitFor(ctx, subject)
	if err != nil {
		t.Fatalf("waitFor: %v", err)
	}
	if string(m.Data) != "pong" {
		t.Fatalf("unexpected payload: %q", m.Data)
	}
	if _, ok := rm.pending.Load(subject); ok {
		t.Fatal("pending slot should be cleaned up after waitFor returns")
	}
}

func TestRespMuxWaitForTimeout(t *testing.T) {
	rm := newRespMux("root")
	subject := rm.newInbox()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rm.waitFor(ctx, subject)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if _, ok := rm.pending.Load(subject); ok {
		t.Fatal("pending slot should be cleaned up after timeout")
	}
}

func TestRespMuxNoResponders(t *testing.T) {
	rm := newRespMux("root")
	subject := rm.newInbox()

	go func() {
		time.Sleep(10 * time.Millisecond)
		rm.onMsg(&Msg{Subject: subject, Header: Header{"Status": []string{"503"}}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := rm.waitFor(ctx, subject)
	if err != ErrNoResponders {
		t.Fatalf("err = %v, want ErrNoResponders", err)
	}
}

func TestRespMuxUnrelatedSubjectIgnored(t *testing.T) {
	rm := newRespMux("root")
	subject := rm.newInbox()

	// A reply on a subject nobody registered must not panic and must
	// leave a concurrent waiter unaffected.
	rm.onMsg(&Msg{Subject: InboxPrefix + "root.999", Data: []byte("stray")})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rm.waitFor(ctx, subject)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
