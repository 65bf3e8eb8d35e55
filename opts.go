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

package natsws

import "time"

// Option configures a Conn at Connect time. This mirrors the historic
// TCP client's functional-option pattern: every knob is a small
// constructor function so callers only ever spell out the options they
// actually want to change from the defaults.
type Option func(*Options) error

// Options holds every tunable accepted by Connect. Use GetDefaultOptions
// and apply Option values on top of it rather than constructing Options
// directly, so future fields default sanely.
type Options struct {
	Url              string
	Transport        TransportFactory
	Auth             AuthProvider
	Name             string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	AllowReconnect   bool
	MaxReconnect     int
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
	ReconnectJitter  time.Duration
	UseHeaders       bool
	NoResponders     bool
	SubChanLen       int
	PingInterval     time.Duration
	MaxPingsOut      int
	DrainTimeout     time.Duration

	ClosedCB          ConnHandler
	DisconnectedErrCB ConnErrHandler
	ReconnectedCB     ConnHandler
	StatusChangeCB    StatusHandler
	AsyncErrorCB      ErrHandler
}

// GetDefaultOptions returns an Options populated with this client's
// defaults; every Option function is written to be applied on top of
// this baseline.
func GetDefaultOptions() Options {
	return Options{
		Url:              DefaultURL,
		ConnectTimeout:   DefaultTimeout,
		RequestTimeout:   DefaultTimeout,
		AllowReconnect:   true,
		MaxReconnect:     DefaultMaxReconnect,
		ReconnectWait:    DefaultReconnectWait,
		MaxReconnectWait: DefaultMaxReconnectWait,
		ReconnectJitter:  DefaultReconnectJitter,
		UseHeaders:       true,
		NoResponders:     true,
		SubChanLen:       65536,
		PingInterval:     DefaultPingInterval,
		MaxPingsOut:      DefaultMaxPingOut,
		DrainTimeout:     30 * time.Second,
	}
}

// URL sets the server URL (ws:// or wss://) to dial.
func URL(url string) Option {
	return func(o *Options) error {
		o.Url = url
		return nil
	}
}

// WithTransport installs the factory used to build a fresh Transport
// for the initial connect and every subsequent reconnect attempt. This
// is the client's only way to speak WebSocket: without it Connect fails
// with ErrNoServers.
func WithTransport(f TransportFactory) Option {
	return func(o *Options) error {
		o.Transport = f
		return nil
	}
}

// WithAuth installs the credential provider consulted for every CONNECT
// frame, including the one sent after a reconnect.
func WithAuth(a AuthProvider) Option {
	return func(o *Options) error {
		o.Auth = a
		return nil
	}
}

// Name sets the client name reported in CONNECT and shown in server
// monitoring.
func Name(name string) Option {
	return func(o *Options) error {
		o.Name = name
		return nil
	}
}

// Timeout sets both the handshake and default per-request timeout.
func Timeout(t time.Duration) Option {
	return func(o *Options) error {
		o.ConnectTimeout = t
		o.RequestTimeout = t
		return nil
	}
}

// NoReconnect disables automatic reconnection entirely; a dropped
// connection transitions straight to Disconnected and is shut down for
// good.
func NoReconnect() Option {
	return func(o *Options) error {
		o.AllowReconnect = false
		return nil
	}
}

// MaxReconnects sets the maximum number of reconnect attempts before
// the connection gives up and closes. A negative value means retry
// forever.
func MaxReconnects(n int) Option {
	return func(o *Options) error {
		o.MaxReconnect = n
		return nil
	}
}

// ReconnectWait sets the base delay of the exponential backoff used
// between reconnect attempts.
func ReconnectWait(t time.Duration) Option {
	return func(o *Options) error {
		o.ReconnectWait = t
		return nil
	}
}

// MaxReconnectWait caps the exponential backoff delay.
func MaxReconnectWait(t time.Duration) Option {
	return func(o *Options) error {
		o.MaxReconnectWait = t
		return nil
	}
}

// ReconnectJitter sets the maximum random jitter, in either direction,
// applied to each backoff delay, to avoid a thundering herd of clients
// reconnecting in lockstep.
func ReconnectJitter(t time.Duration) Option {
	return func(o *Options) error {
		o.ReconnectJitter = t
		return nil
	}
}

// DontUseHeaders disables headers support in CONNECT, forcing plain
// MSG framing even if the server supports HMSG.
func DontUseHeaders() Option {
	return func(o *Options) error {
		o.UseHeaders = false
		return nil
	}
}

// SubscriptionChannelLength overrides the default per-subscription
// dispatch channel buffer size. A slow consumer that fills this buffer
// triggers ErrSlowConsumer instead of blocking delivery.
func SubscriptionChannelLength(n int) Option {
	return func(o *Options) error {
		o.SubChanLen = n
		return nil
	}
}

// PingInterval sets the interval between client-initiated keep-alive
// PINGs.
func PingInterval(t time.Duration) Option {
	return func(o *Options) error {
		o.PingInterval = t
		return nil
	}
}

// MaxPingsOutstanding sets how many unanswered PINGs are tolerated
// before the connection is considered stale and reconnect begins.
func MaxPingsOutstanding(n int) Option {
	return func(o *Options) error {
		o.MaxPingsOut = n
		return nil
	}
}

// DrainTimeout bounds how long Drain waits for in-flight work to
// finish before forcing a close.
func DrainTimeout(t time.Duration) Option {
	return func(o *Options) error {
		o.DrainTimeout = t
		return nil
	}
}

// ClosedHandler sets the callback invoked once a Conn is shut down and
// will never reconnect: on Close (status Closed), or after a lost link
// with reconnect disabled or attempts exhausted (status Disconnected).
func ClosedHandler(cb ConnHandler) Option {
	return func(o *Options) error {
		o.ClosedCB = cb
		return nil
	}
}

// DisconnectErrHandler sets the callback invoked whenever the
// connection is lost, alongside the error that caused it.
func DisconnectErrHandler(cb ConnErrHandler) Option {
	return func(o *Options) error {
		o.DisconnectedErrCB = cb
		return nil
	}
}

// ReconnectHandler sets the callback invoked after a reconnect
// successfully completes its handshake and subscription replay.
func ReconnectHandler(cb ConnHandler) Option {
	return func(o *Options) error {
		o.ReconnectedCB = cb
		return nil
	}
}

// StatusChangeHandler sets the callback invoked on every Status
// transition, in addition to the more specific Closed/Disconnect/
// Reconnect callbacks.
func StatusChangeHandler(cb StatusHandler) Option {
	return func(o *Options) error {
		o.StatusChangeCB = cb
		return nil
	}
}

// AsyncErrorHandler sets the callback invoked for errors that cannot be
// returned synchronously: slow consumers, malformed server frames, and
// panics recovered from user message handlers.
func AsyncErrorHandler(cb ErrHandler) Option {
	return func(o *Options) error {
		o.AsyncErrorCB = cb
		return nil
	}
}
