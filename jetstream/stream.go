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
	"fmt"
	"strconv"
	"time"

	natsws "github.com/nats-io/nats-ws.go"
)

// Headers set by the client on publish, recognized by the server for
// deduplication, optimistic concurrency, and rollups.
const (
	MsgIDHeader               = "Nats-Msg-Id"
	ExpectedStreamHeader      = "Nats-Expected-Stream"
	ExpectedLastSeqHeader     = "Nats-Expected-Last-Sequence"
	ExpectedLastSubjSeqHeader = "Nats-Expected-Last-Subject-Sequence"
	MsgRollupHeader           = "Nats-Rollup"
)

// Headers set by the server on republished and direct-get messages.
const (
	StreamHeader   = "Nats-Stream"
	SequenceHeader = "Nats-Sequence"
	TimeStampHeader = "Nats-Time-Stamp"
	SubjectHeader  = "Nats-Subject"
)

// Rollup scopes, values for MsgRollupHeader.
const (
	MsgRollupSubject = "sub"
	MsgRollupAll     = "all"
)

const (
	statusHdr    = "Status"
	descrHdr     = "Description"
	noMessages   = "404"
	noResponders = "503"
)

// RawStreamMsg is a message as stored in a stream, retrieved via
// Stream.GetMsg / GetLastMsgForSubject.
type RawStreamMsg struct {
	Subject  string
	Sequence uint64
	Header   natsws.Header
	Data     []byte
	Time     time.Time
}

// Stream is a handle to a single JetStream stream, obtained from
// JetStream.CreateStream or JetStream.Stream.
type Stream struct {
	js   *JetStream
	name string
	info StreamInfo
}

// Name returns the stream's name.
func (s *Stream) Name() string { return s.name }

type streamInfoRequest struct {
	SubjectFilter string `json:"subjects_filter,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

type streamInfoResponse struct {
	apiResponse
	*StreamInfo
	Total int `json:"total,omitempty"`
}

// Info fetches the current StreamInfo from the server. When the stream
// holds more distinct subjects than fit in a single response
// (approximately 10,000), Info transparently follows the server's
// offset pagination until every subject has been collected.
func (s *Stream) Info(ctx context.Context) (*StreamInfo, error) {
	info, err := s.fetchInfo(ctx, ">")
	if err != nil {
		return nil, err
	}
	s.info = *info
	return info, nil
}

// fetchInfo is Info with a caller-supplied subjects_filter, so a caller
// that only cares about a subset of the stream's subjects (e.g. an
// object store bucket's metadata subjects) can avoid paging over
// subjects it will discard, without disturbing the stream's cached
// unfiltered info.
func (s *Stream) fetchInfo(ctx context.Context, filter string) (*StreamInfo, error) {
	subjectMap := make(map[string]uint64)
	offset := 0
	infoSubj := fmt.Sprintf(apiStreamInfoT, s.name)

	var info *StreamInfo
	for {
		req := streamInfoRequest{SubjectFilter: filter, Offset: offset}
		var resp streamInfoResponse
		if err := s.js.apiRequestJSON(ctx, infoSubj, &resp, req); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, toJSError(resp.Error)
		}
		info = resp.StreamInfo
		for subj, n := range info.State.Subjects {
			subjectMap[subj] = n
		}
		offset = len(subjectMap)
		if resp.Total == 0 || offset >= resp.Total {
			break
		}
	}
	info.State.Subjects = subjectMap
	return info, nil
}

// CachedInfo returns the StreamInfo captured by the most recent call to
// Info, CreateStream, or UpdateStream, without a round trip.
func (s *Stream) CachedInfo() *StreamInfo {
	return &s.info
}

type streamPurgeRequest struct {
	Subject string `json:"filter,omitempty"`
	Keep    uint64 `json:"keep,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

type streamPurgeResponse struct {
	apiResponse
	Success bool   `json:"success,omitempty"`
	Purged  uint64 `json:"purged"`
}

// Purge removes messages from the stream. With no options this deletes
// everything; PurgeOpt narrows it to a subject and/or keeps the newest
// messages.
func (s *Stream) Purge(ctx context.Context, opts ...PurgeOpt) error {
	var req streamPurgeRequest
	for _, opt := range opts {
		opt(&req)
	}
	var resp streamPurgeResponse
	if err := s.js.apiRequestJSON(ctx, fmt.Sprintf(apiStreamPurgeT, s.name), &resp, req); err != nil {
		return err
	}
	if resp.Error != nil {
		return toJSError(resp.Error)
	}
	return nil
}

// PurgeOpt narrows a Purge call.
type PurgeOpt func(*streamPurgeRequest)

// WithPurgeSubject restricts Purge to messages on subject.
func WithPurgeSubject(subject string) PurgeOpt {
	return func(r *streamPurgeRequest) { r.Subject = subject }
}

// WithPurgeKeep retains the last keep messages instead of purging all.
func WithPurgeKeep(keep uint64) PurgeOpt {
	return func(r *streamPurgeRequest) { r.Keep = keep }
}

type apiMsgGetRequest struct {
	Seq     uint64 `json:"seq,omitempty"`
	LastFor string `json:"last_by_subj,omitempty"`
	NextFor string `json:"next_by_subj,omitempty"`
}

// GetMsg retrieves the message stored at sequence seq via the direct
// get API. The stream must have been created with AllowDirect.
func (s *Stream) GetMsg(ctx context.Context, seq uint64) (*RawStreamMsg, error) {
	return s.getMsg(ctx, &apiMsgGetRequest{Seq: seq})
}

// GetLastMsgForSubject retrieves the most recent message stored on
// subject via the direct get API.
func (s *Stream) GetLastMsgForSubject(ctx context.Context, subject string) (*RawStreamMsg, error) {
	return s.getMsg(ctx, &apiMsgGetRequest{LastFor: subject})
}

// GetNextMsgForSubject retrieves the first message on subject with a
// stream sequence at or after startSeq, the primitive the object
// store's Get uses to walk an object's chunks in order.
func (s *Stream) GetNextMsgForSubject(ctx context.Context, subject string, startSeq uint64) (*RawStreamMsg, error) {
	return s.getMsg(ctx, &apiMsgGetRequest{NextFor: subject, Seq: startSeq})
}

func (s *Stream) getMsg(ctx context.Context, mreq *apiMsgGetRequest) (*RawStreamMsg, error) {
	ctx, cancel := s.js.ctxWithTimeout(ctx)
	defer cancel()

	req, err := json.Marshal(mreq)
	if err != nil {
		return nil, err
	}

	var subj string
	switch {
	case mreq.LastFor != "":
		subj = s.js.apiSubj(fmt.Sprintf(apiDirectGetLastT, s.name, mreq.LastFor))
		req = nil
	default:
		subj = s.js.apiSubj(fmt.Sprintf(apiDirectGetT, s.name))
	}

	reply, err := s.js.conn.Request(ctx, subj, req)
	if err != nil {
		return nil, err
	}
	return convertDirectGetReply(reply)
}

// convertDirectGetReply decodes a direct-get response, which -- unlike
// every other JetStream API call -- is not a JSON envelope: success
// carries the raw stored payload with metadata folded into headers
// (Nats-Stream, Nats-Subject, Nats-Sequence, Nats-Time-Stamp); failure
// carries an empty payload and a Status header (404 for no such
// message).
func convertDirectGetReply(m *natsws.Msg) (*RawStreamMsg, error) {
	if len(m.Data) == 0 {
		if status := m.Header.Get(statusHdr); status != "" {
			if status == noMessages {
				return nil, ErrMsgNotFound
			}
			desc := m.Header.Get(descrHdr)
			if desc == "" {
				desc = "unable to get message"
			}
			return nil, fmt.Errorf("nats: %s", desc)
		}
	}
	if len(m.Header) == 0 {
		return nil, fmt.Errorf("nats: direct get response missing headers")
	}
	seqStr := m.Header.Get(SequenceHeader)
	if seqStr == "" {
		return nil, fmt.Errorf("nats: direct get response missing %s", SequenceHeader)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("nats: invalid %s %q: %w", SequenceHeader, seqStr, err)
	}
	ts := m.Header.Get(TimeStampHeader)
	var when time.Time
	if ts != "" {
		when, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("nats: invalid %s %q: %w", TimeStampHeader, ts, err)
		}
	}
	return &RawStreamMsg{
		Subject:  m.Header.Get(SubjectHeader),
		Sequence: seq,
		Header:   m.Header,
		Data:     m.Data,
		Time:     when,
	}, nil
}
