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

// Package jetstream implements the stream management and Object Store
// layers built on top of the JetStream request/reply API.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	natsws "github.com/nats-io/nats-ws.go"
)

// DefaultAPIPrefix is the subject prefix under which the JetStream API
// listens absent a domain or account-import prefix.
const DefaultAPIPrefix = "$JS.API."

const defaultAPITimeout = 5 * time.Second

const (
	apiAccountInfo    = "INFO"
	apiStreamCreateT  = "STREAM.CREATE.%s"
	apiStreamUpdateT  = "STREAM.UPDATE.%s"
	apiStreamInfoT    = "STREAM.INFO.%s"
	apiStreamDeleteT  = "STREAM.DELETE.%s"
	apiStreamPurgeT   = "STREAM.PURGE.%s"
	apiStreamNamesT   = "STREAM.NAMES"
	apiStreamListT    = "STREAM.LIST"
	apiMsgGetT        = "STREAM.MSG.GET.%s"
	apiDirectGetT     = "DIRECT.GET.%s"
	apiDirectGetLastT = "DIRECT.GET.%s.%s"
)

// JetStream is a context for interacting with the JetStream API: stream
// management and, layered on top of streams, the Object Store.
type JetStream struct {
	conn      *natsws.Conn
	apiPrefix string
	timeout   time.Duration
}

// New returns a JetStream context bound to nc, using the default
// $JS.API. prefix unless overridden by WithAPIPrefix or WithDomain.
func New(nc *natsws.Conn, opts ...Option) (*JetStream, error) {
	o := Options{apiPrefix: DefaultAPIPrefix, timeout: defaultAPITimeout}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	return &JetStream{conn: nc, apiPrefix: o.apiPrefix, timeout: o.timeout}, nil
}

// Conn returns the underlying connection.
func (js *JetStream) Conn() *natsws.Conn { return js.conn }

func (js *JetStream) apiSubj(subj string) string { return js.apiPrefix + subj }

func (js *JetStream) ctxWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, js.timeout)
}

// apiResponse is embedded by every JetStream API JSON response body.
type apiResponse struct {
	Type  string    `json:"type,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// apiRequestJSON marshals req (nil for no body), sends it to the given
// API subject, and unmarshals the reply into resp. resp must embed
// apiResponse so a server-reported error can be surfaced uniformly.
func (js *JetStream) apiRequestJSON(ctx context.Context, subj string, resp interface{}, req interface{}) error {
	ctx, cancel := js.ctxWithTimeout(ctx)
	defer cancel()

	var payload []byte
	var err error
	if req != nil {
		payload, err = json.Marshal(req)
		if err != nil {
			return err
		}
	}

	msg, err := js.conn.Request(ctx, js.apiSubj(subj), payload)
	if err != nil {
		if errors.Is(err, natsws.ErrNoResponders) {
			return ErrJetStreamNotEnabled
		}
		return err
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("nats: malformed JetStream API response: %w", err)
	}
	return nil
}

type accountInfoResponse struct {
	apiResponse
	AccountInfo
}

// AccountInfo reports account-level JetStream limits and usage.
type AccountInfo struct {
	Tier
	Domain string          `json:"domain,omitempty"`
	API    APIStats        `json:"api"`
	Tiers  map[string]Tier `json:"tiers,omitempty"`
}

// Tier reports usage and limits for a single account tier.
type Tier struct {
	Memory    uint64 `json:"memory"`
	Store     uint64 `json:"storage"`
	Streams   int    `json:"streams"`
	Consumers int    `json:"consumers"`
	Limits    AccountLimits `json:"limits"`
}

// AccountLimits reports the configured ceilings for an account tier.
type AccountLimits struct {
	MaxMemory    int64 `json:"max_memory"`
	MaxStore     int64 `json:"max_storage"`
	MaxStreams   int   `json:"max_streams"`
	MaxConsumers int   `json:"max_consumers"`
}

// APIStats reports cumulative JetStream API call counts.
type APIStats struct {
	Total  uint64 `json:"total"`
	Errors uint64 `json:"errors"`
}

// AccountInfo fetches the account's JetStream limits and usage. It
// returns ErrJetStreamNotEnabled if the server has no JetStream
// support, or ErrJetStreamNotEnabledForAccount if this account
// specifically was not granted JetStream.
func (js *JetStream) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var resp accountInfoResponse
	if err := js.apiRequestJSON(ctx, apiAccountInfo, &resp, nil); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, toJSError(resp.Error)
	}
	return &resp.AccountInfo, nil
}

type streamCreateResponse struct {
	apiResponse
	StreamInfo
}

// CreateStream creates a stream with the given configuration, failing
// with ErrStreamNameAlreadyInUse if an incompatible stream by that
// name already exists.
func (js *JetStream) CreateStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.Name == "" {
		return nil, ErrInvalidStreamName
	}
	var resp streamCreateResponse
	if err := js.apiRequestJSON(ctx, fmt.Sprintf(apiStreamCreateT, cfg.Name), &resp, cfg); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, toJSError(resp.Error)
	}
	return &Stream{js: js, name: cfg.Name, info: resp.StreamInfo}, nil
}

// UpdateStream applies cfg to an existing stream.
func (js *JetStream) UpdateStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.Name == "" {
		return nil, ErrInvalidStreamName
	}
	var resp streamCreateResponse
	if err := js.apiRequestJSON(ctx, fmt.Sprintf(apiStreamUpdateT, cfg.Name), &resp, cfg); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, toJSError(resp.Error)
	}
	return &Stream{js: js, name: cfg.Name, info: resp.StreamInfo}, nil
}

// CreateOrUpdateStream creates the stream if it does not exist, or
// updates it in place if it does.
func (js *JetStream) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	s, err := js.CreateStream(ctx, cfg)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, ErrStreamNameAlreadyInUse) {
		return js.UpdateStream(ctx, cfg)
	}
	return nil, err
}

// Stream looks up an existing stream by name.
func (js *JetStream) Stream(ctx context.Context, name string) (*Stream, error) {
	s := &Stream{js: js, name: name}
	if _, err := s.Info(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteStream permanently removes a stream and all its data.
func (js *JetStream) DeleteStream(ctx context.Context, name string) error {
	var resp apiResponse
	if err := js.apiRequestJSON(ctx, fmt.Sprintf(apiStreamDeleteT, name), &resp, nil); err != nil {
		return err
	}
	if resp.Error != nil {
		return toJSError(resp.Error)
	}
	return nil
}

type streamNamesRequest struct {
	Offset int `json:"offset"`
}

type streamNamesResponse struct {
	apiResponse
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
	Streams []string `json:"streams"`
}

// StreamNames returns the name of every stream visible to this
// account, paging through the server's offset-based listing API until
// every page has been fetched. The server truncates a single response
// to roughly 10,000 entries, so this always follows Total/Offset
// rather than trusting a single response to be complete.
func (js *JetStream) StreamNames(ctx context.Context) ([]string, error) {
	var names []string
	offset := 0
	for {
		var resp streamNamesResponse
		if err := js.apiRequestJSON(ctx, apiStreamNamesT, &resp, streamNamesRequest{Offset: offset}); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, toJSError(resp.Error)
		}
		names = append(names, resp.Streams...)
		offset += len(resp.Streams)
		if len(resp.Streams) == 0 || offset >= resp.Total {
			return names, nil
		}
	}
}

type streamListResponse struct {
	apiResponse
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	Streams []*StreamInfo `json:"streams"`
}

// ListStreams returns the full StreamInfo for every stream visible to
// this account, following the same mandatory offset pagination as
// StreamNames.
func (js *JetStream) ListStreams(ctx context.Context) ([]*StreamInfo, error) {
	var infos []*StreamInfo
	offset := 0
	for {
		var resp streamListResponse
		if err := js.apiRequestJSON(ctx, apiStreamListT, &resp, streamNamesRequest{Offset: offset}); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, toJSError(resp.Error)
		}
		infos = append(infos, resp.Streams...)
		offset += len(resp.Streams)
		if len(resp.Streams) == 0 || offset >= resp.Total {
			return infos, nil
		}
	}
}
