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

// Package txn exposes the transaction coordinator bookkeeping consumed by
// read-committed fetches.
package txn

import (
	"sync"

	"github.com/streamgate/kafbridge/pkg/protocol"
)

// Coordinator is the transaction coordinator collaborator. Offsets are in
// protocol space.
type Coordinator interface {
	// FirstUndecidedOffset returns the earliest offset still belonging to an
	// open transaction. ok is false when every transaction is decided; readers
	// then fall back to the high watermark as the stable boundary.
	FirstUndecidedOffset(tp protocol.TopicPartition) (offset int64, ok bool)
	// AbortedIndexList returns aborted transaction markers at or beyond
	// fromOffset, ordered by first offset.
	AbortedIndexList(tp protocol.TopicPartition, fromOffset int64) []protocol.AbortedTransaction
}

// MemoryCoordinator is an in-process Coordinator for tests and the demo
// wiring.
type MemoryCoordinator struct {
	mu        sync.RWMutex
	undecided map[protocol.TopicPartition]int64
	aborted   map[protocol.TopicPartition][]protocol.AbortedTransaction
}

// NewMemoryCoordinator initializes an empty coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		undecided: make(map[protocol.TopicPartition]int64),
		aborted:   make(map[protocol.TopicPartition][]protocol.AbortedTransaction),
	}
}

func (c *MemoryCoordinator) FirstUndecidedOffset(tp protocol.TopicPartition) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	offset, ok := c.undecided[tp]
	return offset, ok
}

func (c *MemoryCoordinator) AbortedIndexList(tp protocol.TopicPartition, fromOffset int64) []protocol.AbortedTransaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []protocol.AbortedTransaction
	for _, abort := range c.aborted[tp] {
		if abort.FirstOffset >= fromOffset {
			out = append(out, abort)
		}
	}
	return out
}

// SetFirstUndecidedOffset records an open transaction boundary. A negative
// offset clears it.
func (c *MemoryCoordinator) SetFirstUndecidedOffset(tp protocol.TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset < 0 {
		delete(c.undecided, tp)
		return
	}
	c.undecided[tp] = offset
}

// AddAborted appends an aborted transaction marker.
func (c *MemoryCoordinator) AddAborted(tp protocol.TopicPartition, abort protocol.AbortedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted[tp] = append(c.aborted[tp], abort)
}
