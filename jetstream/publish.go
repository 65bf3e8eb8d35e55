// Copyright 2022-2024 The NATS Authors
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
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	natsws "github.com/nats-io/nats-ws.go"
)

// PubAck is the server's acknowledgment of a successful publish to a
// stream.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

type pubAckResponse struct {
	apiResponse
	*PubAck
}

type pubOpts struct {
	id             string
	lastMsgID      string
	stream         string
	lastSeq        *uint64
	lastSubjectSeq *uint64
	retryWait      time.Duration
	retryAttempts  int
}

// PublishOpt configures a single call to Publish or PublishMsg.
type PublishOpt func(*pubOpts) error

// WithMsgID sets the Nats-Msg-Id header used by the stream's
// deduplication window.
func WithMsgID(id string) PublishOpt {
	return func(o *pubOpts) error { o.id = id; return nil }
}

// WithExpectStream fails the publish unless it lands on the named
// stream.
func WithExpectStream(stream string) PublishOpt {
	return func(o *pubOpts) error { o.stream = stream; return nil }
}

// WithExpectLastSequence fails the publish unless seq is the stream's
// current last sequence.
func WithExpectLastSequence(seq uint64) PublishOpt {
	return func(o *pubOpts) error { o.lastSeq = &seq; return nil }
}

// WithExpectLastSequencePerSubject fails the publish unless seq is the
// last sequence recorded for the message's subject.
func WithExpectLastSequencePerSubject(seq uint64) PublishOpt {
	return func(o *pubOpts) error { o.lastSubjectSeq = &seq; return nil }
}

const (
	defaultPubRetryWait     = 250 * time.Millisecond
	defaultPubRetryAttempts = 2
)

var errInvalidJSAck = errors.New("nats: invalid jetstream publish response")

// Publish performs a synchronous publish to a stream, blocking until
// the server acknowledges the message or the context is done.
func (js *JetStream) Publish(ctx context.Context, subj string, data []byte, opts ...PublishOpt) (*PubAck, error) {
	return js.PublishMsg(ctx, &natsws.Msg{Subject: subj, Data: data}, opts...)
}

// PublishMsg performs a synchronous publish to a stream, waiting for
// the ack the same way Publish does, but lets the caller set headers
// (e.g. MsgRollupHeader) directly on m.
func (js *JetStream) PublishMsg(ctx context.Context, m *natsws.Msg, opts ...PublishOpt) (*PubAck, error) {
	ctx, cancel := js.ctxWithTimeout(ctx)
	defer cancel()

	o := pubOpts{retryWait: defaultPubRetryWait, retryAttempts: defaultPubRetryAttempts}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.id != "" || o.lastMsgID != "" || o.stream != "" || o.lastSeq != nil || o.lastSubjectSeq != nil {
		if m.Header == nil {
			m.Header = natsws.Header{}
		}
		if o.id != "" {
			m.Header.Set(MsgIDHeader, o.id)
		}
		if o.stream != "" {
			m.Header.Set(ExpectedStreamHeader, o.stream)
		}
		if o.lastSeq != nil {
			m.Header.Set(ExpectedLastSeqHeader, strconv.FormatUint(*o.lastSeq, 10))
		}
		if o.lastSubjectSeq != nil {
			m.Header.Set(ExpectedLastSubjSeqHeader, strconv.FormatUint(*o.lastSubjectSeq, 10))
		}
	}

	resp, err := js.conn.RequestMsg(ctx, m)
	for r := 0; errors.Is(err, natsws.ErrNoResponders) && r < o.retryAttempts; r++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.retryWait):
		}
		resp, err = js.conn.RequestMsg(ctx, m)
	}
	if err != nil {
		if errors.Is(err, natsws.ErrNoResponders) {
			return nil, ErrJetStreamNotEnabled
		}
		return nil, err
	}

	var ackResp pubAckResponse
	if err := json.Unmarshal(resp.Data, &ackResp); err != nil {
		return nil, errInvalidJSAck
	}
	if ackResp.Error != nil {
		return nil, toJSError(ackResp.Error)
	}
	if ackResp.PubAck == nil || ackResp.PubAck.Stream == "" {
		return nil, errInvalidJSAck
	}
	return ackResp.PubAck, nil
}

// PublishWithRollup publishes data with the Nats-Rollup header set to
// scope, subsuming every earlier message on the subject (MsgRollupSubject)
// or on the whole stream (MsgRollupAll).
func (js *JetStream) PublishWithRollup(ctx context.Context, subj string, data []byte, scope string) (*PubAck, error) {
	m := &natsws.Msg{Subject: subj, Data: data, Header: natsws.Header{MsgRollupHeader: []string{scope}}}
	return js.PublishMsg(ctx, m)
}
