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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats-ws.go/internal/syncx"
)

// InboxPrefix is the subject prefix under which per-connection reply
// subjects are minted. A single wildcard subscription on
// InboxPrefix+<root>+".*" catches every reply for the life of the
// connection's current inbox root.
const InboxPrefix = "_INBOX."

// newInboxRoot returns a fresh, per-connection random token used as the
// stable prefix for every reply subject this connection ever mints.
// Sixteen bytes of crypto/rand hex-encoded gives no meaningful chance
// of collision between two connections sharing a server.
func newInboxRoot() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// respHandler represents one outstanding request awaiting exactly one
// reply on its own reply subject.
type respHandler struct {
	ch     chan *Msg
	errCh  chan error
	closed atomic.Bool
}

func (h *respHandler) deliver(m *Msg) {
	if h.closed.Load() {
		return
	}
	select {
	case h.ch <- m:
	default:
	}
}

// deliverErr fails the waiter with err instead of a message, used when
// the connection is lost or closed out from under a pending request.
func (h *respHandler) deliverErr(err error) {
	if h.closed.Load() {
		return
	}
	select {
	case h.errCh <- err:
	default:
	}
}

// respMux implements request/reply correlation over a single shared
// wildcard subscription on _INBOX.<root>.*, avoiding a new server-side
// subscription per outstanding request.
type respMux struct {
	root    string
	counter atomic.Uint64
	pending syncx.Map[string, *respHandler]
	sub     *Subscription
}

func newRespMux(root string) *respMux {
	return &respMux{root: root}
}

// newInbox mints a fresh, unique reply subject under this mux's root.
func (rm *respMux) newInbox() string {
	n := rm.counter.Add(1)
	return fmt.Sprintf("%s%s.%d", InboxPrefix, rm.root, n)
}

func (rm *respMux) wildcardSubject() string {
	return fmt.Sprintf("%s%s.*", InboxPrefix, rm.root)
}

// register creates a pending response slot for subject and returns the
// channel that the caller should wait on.
func (rm *respMux) register(subject string) *respHandler {
	h := &respHandler{ch: make(chan *Msg, 1), errCh: make(chan error, 1)}
	rm.pending.Store(subject, h)
	return h
}

func (rm *respMux) unregister(subject string) {
	if h, ok := rm.pending.LoadAndDelete(subject); ok {
		h.closed.Store(true)
	}
}

// onMsg is installed as the handler for the shared wildcard
// subscription; it routes each inbound reply to the pending request
// waiting on its exact subject.
func (rm *respMux) onMsg(m *Msg) {
	h, ok := rm.pending.Load(m.Subject)
	if !ok {
		return
	}
	h.deliver(m)
}

// waitFor blocks for a single reply on subject or until ctx is done,
// always cleaning up the pending slot before returning.
func (rm *respMux) waitFor(ctx context.Context, subject string) (*Msg, error) {
	h := rm.register(subject)
	defer rm.unregister(subject)
	select {
	case m := <-h.ch:
		if m.hasNoResponders() {
			return nil, ErrNoResponders
		}
		return m, nil
	case err := <-h.errCh:
		return nil, err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
