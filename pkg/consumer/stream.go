// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package consumer implements bounded, per-request reads of a topic. Each
// read runs under its own throwaway consumer group so concurrent readers
// never share committed offsets.
package consumer

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// DefaultGroupPrefix labels groups created by the gateway.
const DefaultGroupPrefix = "kafgate-read"

// Identity is a consumer group name that lives for exactly one read.
type Identity string

// NewIdentity returns prefix joined with a ULID. The ULID carries a
// millisecond timestamp and 80 bits of randomness, and is monotonic within a
// process, so identities minted in the same millisecond still differ.
func NewIdentity(prefix string) Identity {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		prefix = DefaultGroupPrefix
	}
	return Identity(prefix + "-" + strings.ToLower(ulid.Make().String()))
}

func (id Identity) String() string { return string(id) }

// Batch is what one Poll produced. Idle reports that the inactivity window
// elapsed without a record; it is the normal end of a read, not a failure.
type Batch struct {
	Values [][]byte
	Idle   bool
}

// Stream is an open subscription to one topic under one Identity.
type Stream interface {
	// Poll waits for up to max records. It returns Idle once no record
	// arrived within the inactivity window that began at the last record.
	Poll(ctx context.Context, max int) (Batch, error)
	Close(ctx context.Context) error
}

// Opener creates streams and discards the group state they leave behind.
type Opener interface {
	Open(ctx context.Context, id Identity, topic string) (Stream, error)
	Abandon(ctx context.Context, id Identity) error
}
