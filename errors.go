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

import "errors"

// Sentinel errors for the connection, subscription, and request/reply
// layers. These correspond to the error taxonomy of kinds (not types)
// described for this client: Connection, Authentication, Server,
// Request timeout, No responders.
var (
	ErrConnectionClosed    = errors.New("natsws: connection closed")
	ErrConnectionDraining  = errors.New("natsws: connection draining")
	ErrConnectionReconnect = errors.New("natsws: connection lost, reconnecting")
	ErrDisconnected        = errors.New("natsws: not connected")
	ErrAlreadyConnected    = errors.New("natsws: already connected")
	ErrHandshakeTimeout    = errors.New("natsws: handshake timed out")
	ErrHandshakeFailed     = errors.New("natsws: handshake failed")
	ErrAuthorization       = errors.New("natsws: authorization failed")
	ErrNoServers           = errors.New("natsws: no servers available for connection")
	ErrTimeout             = errors.New("natsws: timeout")
	ErrNoResponders        = errors.New("natsws: no responders available for request")
	ErrBadSubject          = errors.New("natsws: invalid subject")
	ErrBadSubscription     = errors.New("natsws: invalid subscription")
	ErrSlowConsumer        = errors.New("natsws: slow consumer, message dropped")
	ErrMaxPayload          = errors.New("natsws: maximum payload exceeded")
	ErrInvalidMsg          = errors.New("natsws: invalid message")
	ErrMaxReconnects       = errors.New("natsws: maximum reconnect attempts exhausted")
)

// ServerError reports a plain, non-authentication "-ERR" sent by the
// server. Authentication-flavored -ERR text is instead reported as
// ErrAuthorization per the server -ERR classification rule.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return "natsws: server error: " + e.Text }
