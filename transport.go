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

import "context"

// Transport is the injected collaborator that carries the NATS byte
// stream. It is expected to be a WebSocket connection (binary frames,
// TLS handled underneath if the URL scheme is wss://) but this package
// only ever treats it as an ordered, reliable byte stream -- the
// WebSocket framing and TLS are entirely the implementation's concern.
//
// Read is expected to behave like io.Reader with the added ability to
// be interrupted by ctx: a zero-length, nil-error return signals an
// orderly close of the underlying stream. Write is expected to be
// called single-threaded -- Conn serializes all outbound frames through
// its own send mutex, so a Transport implementation does not need one
// of its own.
type Transport interface {
	// Dial establishes the connection to url (which carries a ws:// or
	// wss:// scheme). It must respect ctx's deadline/cancellation.
	Dial(ctx context.Context, url string) error

	// Read fills p with the next available bytes. A return of (0, nil)
	// means the peer closed the stream in an orderly fashion.
	Read(ctx context.Context, p []byte) (int, error)

	// Write sends p as a single message/frame boundary as far as the
	// underlying transport is concerned; NATS frames must not be split
	// across two Write calls or interleaved with another goroutine's.
	Write(ctx context.Context, p []byte) error

	// Close tears down the connection. It is safe to call more than
	// once; subsequent calls are no-ops.
	Close() error

	// Connected reports whether the transport believes itself open.
	// It is a best-effort hint, not authoritative -- Read/Write errors
	// are the ground truth.
	Connected() bool
}

// TransportFactory builds a fresh, unconnected Transport instance. The
// connection core calls it once for the initial connect and again for
// every reconnect attempt, since a Transport cannot be reused once
// closed.
type TransportFactory func() Transport
