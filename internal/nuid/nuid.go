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

// Package nuid generates the short tokens used as chunk subject
// components in the object store. It wraps github.com/nats-io/nuid,
// reseeding the process-global math/rand source it draws its prefix
// from with crypto/rand entropy first, so that two processes started
// within the same clock tick do not mint colliding prefixes.
package nuid

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"

	gonuid "github.com/nats-io/nuid"
)

// Generator mints NUID tokens with a CSPRNG-seeded prefix.
type Generator struct {
	n *gonuid.NUID
}

// New returns a Generator whose prefix has been reseeded from
// crypto/rand.
func New() *Generator {
	seedFromCSPRNG()
	g := &Generator{n: gonuid.New()}
	g.n.RandomizePrefix()
	return g
}

func seedFromCSPRNG() {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return
	}
	mathrand.Seed(int64(binary.BigEndian.Uint64(seed[:])))
}

// Next returns the next token in the sequence.
func (g *Generator) Next() string {
	return g.n.Next()
}
