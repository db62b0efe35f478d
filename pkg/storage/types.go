// Copyright 2025 The kafbridge Authors.
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

// Package storage defines the collaborator interfaces for the ledger store
// that backs kafbridge, plus an in-memory engine used by tests and the demo
// wiring. The real engine lives outside this repository; the fetch path only
// depends on these interfaces.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFenced indicates the ledger was fenced by another owner. The fetch
	// path classifies this as not-leader so the client retries elsewhere.
	ErrFenced = errors.New("ledger fenced")
	// ErrCursorClosed indicates the cursor was closed underneath a read.
	ErrCursorClosed = errors.New("cursor closed")
	// ErrCorruptBatch indicates an entry payload too small to carry a record
	// batch header.
	ErrCorruptBatch = errors.New("corrupt record batch header")
)

// Position identifies an entry inside a ledger.
type Position struct {
	Ledger int64
	Entry  int64
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Ledger, p.Entry)
}

// Entry is one ledger entry: an opaque Kafka record batch plus its position.
// Batch offsets inside Data are storage-native; the fetch path applies the
// migration bias when building protocol-visible responses.
type Entry struct {
	Position Position
	Data     []byte
}

// Length returns the entry payload size in bytes.
func (e Entry) Length() int { return len(e.Data) }

// Cursor is a stateful read pointer into one partition ledger. Cursors are
// logically reused across fetches from the same client/partition pairing.
type Cursor interface {
	// ReadEntries returns up to maxEntries entries bounded by maxBytes. An
	// empty result means the cursor is at the end of the ledger. Reads do not
	// impose their own timeout beyond the engine's bounded-read semantics.
	ReadEntries(ctx context.Context, maxEntries int, maxBytes int64) ([]Entry, error)
	// MarkRead advances the non-durable read marker to pos so unread backlog
	// accounting is not inflated by this cursor. Best effort; a later mark
	// supersedes a failed one.
	MarkRead(pos Position) error
}

// ConsumerManager owns the reusable cursors of one fully-qualified topic
// partition ledger.
type ConsumerManager interface {
	// RemoveCursor detaches a cursor positioned at offset, creating one when
	// none is tracked there. ok is false when the manager has been closed;
	// callers must then drop any cached reference to it.
	RemoveCursor(offset int64) (cursor Cursor, actual int64, ok bool)
	// AddCursor hands a cursor back for reuse, keyed at its next read offset.
	AddCursor(offset int64, cursor Cursor)
	// DropCursor discards a cursor whose read failed instead of reusing it.
	DropCursor(cursor Cursor)
	// LogEndOffset is the storage-native offset one past the last entry.
	LogEndOffset() int64
	// HighWatermark is the storage-native offset up to which entries are
	// durable and visible to uncommitted readers.
	HighWatermark() int64
	// Properties returns the metadata properties attached to the ledger.
	Properties() map[string]string
	// Close releases the manager. Idempotent.
	Close()
}

// TopicManager resolves ConsumerManagers by fully-qualified topic name.
type TopicManager interface {
	// GetConsumerManager returns the manager for the named partition ledger.
	// A nil manager with nil error signals a closed or unready handle.
	GetConsumerManager(ctx context.Context, fullTopicName string) (ConsumerManager, error)
	// Invalidate drops any cached handle for the topic so later requests
	// re-resolve it. Used for fenced ledgers and dead handles. Idempotent;
	// handles obtained afterwards are unaffected.
	Invalidate(fullTopicName string)
}

// FullTopicName builds the fully-qualified partition ledger name used as the
// TopicManager key.
func FullTopicName(namespace, topic string, partition int32) string {
	return fmt.Sprintf("%s/%s-partition-%d", namespace, topic, partition)
}
