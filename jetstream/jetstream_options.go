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

import "time"

// Options holds the configuration of a JetStream context.
type Options struct {
	apiPrefix string
	timeout   time.Duration
}

// Option configures a JetStream context at construction time.
type Option func(*Options) error

// WithAPIPrefix overrides the subject prefix used for every JetStream
// API request, for accessing JetStream through an account import under
// a prefix other than $JS.API.
func WithAPIPrefix(prefix string) Option {
	return func(o *Options) error {
		if prefix == "" {
			return ErrInvalidSubject
		}
		if prefix[len(prefix)-1] != '.' {
			prefix += "."
		}
		o.apiPrefix = prefix
		return nil
	}
}

// WithDomain sets the JetStream domain used to reach a specific leaf
// or remote cluster, formatting the API prefix as
// "$JS.<domain>.API.".
func WithDomain(domain string) Option {
	return func(o *Options) error {
		o.apiPrefix = "$JS." + domain + ".API."
		return nil
	}
}

// WithRequestTimeout overrides the default timeout applied to
// JetStream API requests made through this context.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		o.timeout = timeout
		return nil
	}
}
