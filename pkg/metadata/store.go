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

// Package metadata tracks per-topic migration state for topics moving from
// the legacy Kafka cluster onto the ledger store.
package metadata

import (
	"context"
	"strconv"
	"sync"
)

// MigrationStatus is the lifecycle phase of a topic's migration.
type MigrationStatus string

const (
	MigrationNotStarted MigrationStatus = "NOT_STARTED"
	MigrationStarted    MigrationStatus = "STARTED"
	MigrationDone       MigrationStatus = "DONE"
)

// Ledger property keys carrying migration metadata when the engine attaches
// it directly to a ledger.
const (
	PropMigrationStatus = "migration.status"
	PropMigrationOffset = "migration.offset"
)

// MigrationMetadata is one topic's migration snapshot. MigrationOffset is the
// cutover offset separating legacy records from ledger records; -1 means the
// cutover has not been determined yet. Snapshots are re-read per request, not
// cached across requests.
type MigrationMetadata struct {
	Status          MigrationStatus `json:"status"`
	MigrationOffset int64           `json:"migration_offset"`
}

// OffsetSet reports whether the cutover offset has been determined.
func (m *MigrationMetadata) OffsetSet() bool {
	return m != nil && m.MigrationOffset >= 0
}

// Bias returns the offset bias added to storage offsets to recover protocol
// offsets. Zero when no cutover applies.
func (m *MigrationMetadata) Bias() int64 {
	if m.OffsetSet() {
		return m.MigrationOffset
	}
	return 0
}

// FromProperties extracts migration metadata from ledger-attached properties.
// Returns nil when the ledger carries no migration record.
func FromProperties(props map[string]string) *MigrationMetadata {
	status, ok := props[PropMigrationStatus]
	if !ok {
		return nil
	}
	md := &MigrationMetadata{Status: MigrationStatus(status), MigrationOffset: -1}
	if raw, ok := props[PropMigrationOffset]; ok {
		if offset, err := strconv.ParseInt(raw, 10, 64); err == nil {
			md.MigrationOffset = offset
		}
	}
	return md
}

// Store exposes migration metadata lookups for the fetch path.
type Store interface {
	// MigrationMetadata returns the topic's migration snapshot. A nil snapshot
	// with nil error means the topic has no migration record and is served
	// entirely from the ledger store.
	MigrationMetadata(ctx context.Context, topic string) (*MigrationMetadata, error)
}

// InMemoryStore is a Store backed by in-process state. Useful for early
// development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*MigrationMetadata
}

// NewInMemoryStore initializes an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*MigrationMetadata)}
}

// MigrationMetadata implements Store.
func (s *InMemoryStore) MigrationMetadata(ctx context.Context, topic string) (*MigrationMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.records[topic]
	if !ok {
		return nil, nil
	}
	snapshot := *md
	return &snapshot, nil
}

// SetMigrationMetadata records a topic's migration snapshot.
func (s *InMemoryStore) SetMigrationMetadata(topic string, md *MigrationMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if md == nil {
		delete(s.records, topic)
		return
	}
	snapshot := *md
	s.records[topic] = &snapshot
}
