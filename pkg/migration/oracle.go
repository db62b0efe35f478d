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

// Package migration decides, per topic and fetch offset, whether a read is
// served by the ledger store or proxied to the legacy Kafka cluster while a
// migration is underway.
package migration

import (
	"context"

	"github.com/streamgate/kafbridge/pkg/metadata"
)

// Route classifies how a partition fetch must be served.
type Route int

const (
	// RouteProceed serves the fetch from the ledger store.
	RouteProceed Route = iota
	// RouteLegacy proxies the fetch to the legacy Kafka cluster.
	RouteLegacy
	// RouteRebalance tells the client to retry shortly: the migration is in
	// progress and its cutover offset is not determined yet.
	RouteRebalance
)

// Oracle resolves a topic's migration snapshot. Pure lookup; no mutation.
type Oracle struct {
	store metadata.Store
}

// NewOracle builds an oracle over the given metadata store.
func NewOracle(store metadata.Store) *Oracle {
	return &Oracle{store: store}
}

// Resolve returns the topic's migration snapshot, nil when the topic has no
// migration record. Errors propagate; callers treat them as a transient
// partition-level failure.
func (o *Oracle) Resolve(ctx context.Context, topic string) (*metadata.MigrationMetadata, error) {
	return o.store.MigrationMetadata(ctx, topic)
}

// Decide classifies a partition fetch against a migration snapshot:
//   - no record, or status DONE: serve from the ledger store.
//   - status NOT_STARTED: serve entirely from the legacy cluster.
//   - status STARTED with the fetch offset below the cutover: the requested
//     range predates the migration, serve the historical tail from legacy.
//   - status STARTED with an undetermined cutover: not yet fetchable.
func Decide(md *metadata.MigrationMetadata, fetchOffset int64) Route {
	if md == nil {
		return RouteProceed
	}
	switch md.Status {
	case metadata.MigrationNotStarted:
		return RouteLegacy
	case metadata.MigrationStarted:
		if !md.OffsetSet() {
			return RouteRebalance
		}
		if fetchOffset < md.MigrationOffset {
			return RouteLegacy
		}
		return RouteProceed
	default:
		return RouteProceed
	}
}

// ToStorageOffset translates a protocol-visible offset into the ledger's
// native numbering by removing the migration bias.
func ToStorageOffset(protocolOffset, bias int64) int64 {
	return protocolOffset - bias
}

// ToProtocolOffset is the inverse of ToStorageOffset.
func ToProtocolOffset(storageOffset, bias int64) int64 {
	return storageOffset + bias
}
