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

// Package natsws is a client for the NATS publish/subscribe and
// request/reply messaging system, carried over a WebSocket transport
// instead of raw TCP. It speaks the same wire protocol as the TCP client
// (PING/PONG, PUB/SUB, headers, JetStream, Object Store) against an
// injected Transport, so it runs anywhere only WebSocket egress is
// available.
package natsws

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Version is the current version of this client library.
const Version = "1.0.0"

// Default connection tunables, mirrored from the historic TCP client.
const (
	DefaultURL              = "ws://127.0.0.1:8080"
	DefaultMaxReconnect     = 60
	DefaultReconnectWait    = 2 * time.Second
	DefaultMaxReconnectWait = 8 * time.Second
	DefaultReconnectJitter  = 100 * time.Millisecond
	DefaultTimeout          = 2 * time.Second
	DefaultPingInterval     = 2 * time.Minute
	DefaultMaxPingOut       = 3
	DefaultReceiveBufSize   = 32768
	LangString              = "go"
)

// Status represents the state of a Conn.
type Status int32

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
	Closed
	DrainingSubs
	DrainingPubs
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case DrainingSubs:
		return "draining subscriptions"
	case DrainingPubs:
		return "draining publishers"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Header is a case-insensitive multi-map of NATS message headers, plus
// an optional status line (code + description) folded in as the
// reserved "Status"/"Description" keys. The values of one key keep the
// order they were added in; distinct keys have no defined order.
type Header map[string][]string

// Add appends value to the values already present for key, preserving
// the per-key order the wire encoder writes them in.
func (h Header) Add(key, value string) {
	k := canonicalHeaderKey(key)
	h[k] = append(h[k], value)
}

// Set replaces any existing values for key with the single value given.
func (h Header) Set(key, value string) {
	h[canonicalHeaderKey(key)] = []string{value}
}

// Get returns the first value associated with key, or "" if absent.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[canonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values associated with key.
func (h Header) Values(key string) []string {
	return h[canonicalHeaderKey(key)]
}

// Del removes the values associated with key.
func (h Header) Del(key string) {
	delete(h, canonicalHeaderKey(key))
}

// Msg represents a message delivered by a subscription or received in
// reply to a request. Sub is nil for messages built purely to publish.
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Data    []byte
	Sub     *Subscription
}

// NewMsg creates a Msg addressed to subject with an empty header ready
// for Add/Set.
func NewMsg(subject string) *Msg {
	return &Msg{Subject: subject, Header: Header{}}
}

// hasNoResponders reports whether the message carries the 503 status
// used by the request/reply layer to signal no interested subscriber.
func (m *Msg) hasNoResponders() bool {
	return m != nil && m.Header.Get(statusHdr) == noRespondersStatus
}

// Stats tracks byte and message counters for a Conn, updated atomically
// so the read loop and the publish path can touch them concurrently.
type Stats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

type atomicStats struct {
	inMsgs     atomic.Uint64
	outMsgs    atomic.Uint64
	inBytes    atomic.Uint64
	outBytes   atomic.Uint64
	reconnects atomic.Uint64
}

func (s *atomicStats) snapshot() Stats {
	return Stats{
		InMsgs:     s.inMsgs.Load(),
		OutMsgs:    s.outMsgs.Load(),
		InBytes:    s.inBytes.Load(),
		OutBytes:   s.outBytes.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// ServerInfo is the decoded content of the server's INFO announcement.
// Only server_id, version, headers, auth_required, max_payload, proto
// and nonce are load-bearing for the handshake; the rest are retained
// because they are part of the documented wire payload and dropping
// unrecognized fields would violate uniform JSON handling.
type ServerInfo struct {
	ID           string   `json:"server_id"`
	Name         string   `json:"server_name"`
	Version      string   `json:"version"`
	Go           string   `json:"go"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Headers      bool     `json:"headers"`
	AuthRequired bool     `json:"auth_required"`
	TLSRequired  bool     `json:"tls_required"`
	MaxPayload   int64    `json:"max_payload"`
	Proto        int      `json:"proto"`
	ClientID     uint64   `json:"client_id,omitempty"`
	ClientIP     string   `json:"client_ip,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
}

// connectInfo is the CONNECT frame payload sent by the client.
type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	UserJWT      string `json:"jwt,omitempty"`
	Nkey         string `json:"nkey,omitempty"`
	Signature    string `json:"sig,omitempty"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	Token        string `json:"auth_token,omitempty"`
	TLS          bool   `json:"tls_required"`
	Name         string `json:"name"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Echo         bool   `json:"echo"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
}

func (c *connectInfo) marshal() ([]byte, error) {
	return json.Marshal(c)
}

// AuthInfo is the credential material an AuthProvider hands back for a
// CONNECT frame. Every field is optional; a credential scheme fills in
// whichever subset it uses. Signature, when present, is assumed to
// already be the base64-encoded Ed25519 signature of the server nonce --
// signing itself is out of scope for this client.
type AuthInfo struct {
	JWT       string
	Signature string
	Token     string
	User      string
	Pass      string
	Nkey      string
}

// AuthProvider yields CONNECT credentials, optionally in response to a
// server-issued nonce (empty when the server does not challenge).
type AuthProvider interface {
	Authenticate(nonce string) (AuthInfo, error)
}

// AuthProviderFunc adapts a function to an AuthProvider.
type AuthProviderFunc func(nonce string) (AuthInfo, error)

func (f AuthProviderFunc) Authenticate(nonce string) (AuthInfo, error) { return f(nonce) }

// Handler types invoked by a Conn to report state changes and
// asynchronous errors. This is the ambient "logging" surface this
// client exposes in place of an owned logging dependency: callers wire
// these into whatever structured logger their application already
// uses.
type (
	ConnHandler    func(*Conn)
	ConnErrHandler func(*Conn, error)
	ErrHandler     func(*Conn, *Subscription, error)
	StatusHandler  func(*Conn, Status)
)
