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

// Package fetch implements the fetch-request execution pipeline: per-partition
// reads against the ledger store's cursors, migration-aware routing to the
// legacy cluster, read-committed filtering, and delayed completion under the
// request's min-bytes/max-wait contract.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/streamgate/kafbridge/pkg/auth"
	"github.com/streamgate/kafbridge/pkg/metadata"
	"github.com/streamgate/kafbridge/pkg/migration"
	"github.com/streamgate/kafbridge/pkg/protocol"
	"github.com/streamgate/kafbridge/pkg/storage"
	"github.com/streamgate/kafbridge/pkg/txn"
)

const (
	defaultMaxReadEntries = 5

	// defaultRequestTimeout bounds how long a request may stay unresolved
	// past its own max-wait before partitions still missing a result are
	// answered with a timeout error.
	defaultRequestTimeout = 30 * time.Second
)

// LegacyReader proxies one partition's fetch to the legacy Kafka cluster.
type LegacyReader interface {
	ReadPartition(ctx context.Context, topic string, partition int32, fetchOffset int64, maxBytes int32) (protocol.FetchPartitionResponse, error)
}

// Config tunes the fetch handler.
type Config struct {
	// Namespace prefixes topic names into fully-qualified ledger names.
	Namespace string
	// MaxReadEntries caps the entry count of a single cursor read.
	MaxReadEntries int
	// RequestTimeout is the grace past a request's max-wait after which the
	// response is emitted with timeout errors for unresolved partitions.
	RequestTimeout time.Duration
}

// Deps wires the handler's collaborators. Topics and Oracle are required;
// the rest default as documented on each field.
type Deps struct {
	Topics storage.TopicManager
	Oracle *migration.Oracle
	// Legacy serves migration fallback reads. When nil, partitions routed to
	// the legacy cluster report a rebalance-in-progress error.
	Legacy LegacyReader
	// Authorizer defaults to auth.AllowAll.
	Authorizer auth.Authorizer
	// Coordinator enables read-committed isolation. When nil, read-committed
	// requests are served as read-uncommitted.
	Coordinator txn.Coordinator
	// Decoder defaults to NewEntryDecoder.
	Decoder Decoder
	// Purgatory defaults to a fresh purgatory.
	Purgatory *Purgatory
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Handler executes fetch requests. Exposed to the protocol dispatcher through
// HandleFetch; the returned Pending completes its result channel exactly once.
type Handler struct {
	cfg         Config
	topics      storage.TopicManager
	oracle      *migration.Oracle
	legacy      LegacyReader
	authorizer  auth.Authorizer
	coordinator txn.Coordinator
	decoder     Decoder
	purgatory   *Purgatory
	logger      *slog.Logger
	decodeSlots chan struct{}
}

// NewHandler builds a fetch handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.MaxReadEntries <= 0 {
		cfg.MaxReadEntries = defaultMaxReadEntries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.AllowAll
	}
	if deps.Decoder == nil {
		deps.Decoder = NewEntryDecoder()
	}
	if deps.Purgatory == nil {
		deps.Purgatory = NewPurgatory()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		cfg:         cfg,
		topics:      deps.Topics,
		oracle:      deps.Oracle,
		legacy:      deps.Legacy,
		authorizer:  deps.Authorizer,
		coordinator: deps.Coordinator,
		decoder:     deps.Decoder,
		purgatory:   deps.Purgatory,
		logger:      deps.Logger.With("component", "fetch"),
		decodeSlots: make(chan struct{}, runtime.GOMAXPROCS(0)),
	}
}

// Purgatory returns the delayed-completion scheduler so producers can notify
// watched partitions after an append.
func (h *Handler) Purgatory() *Purgatory {
	return h.purgatory
}

// WatchKey is the purgatory notification key for one partition.
func (h *Handler) WatchKey(topic string, partition int32) string {
	return storage.FullTopicName(h.cfg.Namespace, topic, partition)
}

// Pending is one in-flight fetch request.
type Pending struct {
	h  *Handler
	fc *fetchContext
}

// Results yields the single completed Result and closes. On cancellation the
// channel closes without a value.
func (p *Pending) Results() <-chan *Result {
	return p.fc.out
}

// CompleteWithError records an error outcome for one partition. Used by the
// dispatcher for pre-validation failures and by tests.
func (p *Pending) CompleteWithError(tp protocol.TopicPartition, code int16) {
	p.h.recordError(p.fc, tp, code)
}

// HandleFetch starts one fetch request. Each requested partition runs its own
// pipeline; the Pending's result channel receives the assembled response once
// every partition resolved and the min-bytes/max-wait contract is satisfied.
func (h *Handler) HandleFetch(ctx context.Context, header protocol.RequestHeader, req *protocol.FetchRequest) *Pending {
	fetchRequestsTotal.Inc()
	fc := newFetchContext(ctx, header, req)
	pending := &Pending{h: h, fc: fc}

	// Watchdog: cancellation drops the request without a response; the
	// deadline emits whatever resolved so far, filling timeout errors for
	// the rest.
	deadline := time.NewTimer(time.Duration(req.MaxWaitMs)*time.Millisecond + h.cfg.RequestTimeout)
	go func() {
		defer deadline.Stop()
		select {
		case <-ctx.Done():
			fc.finish()
		case <-deadline.C:
			fc.finish()
		case <-fc.done:
		}
	}()

	readCommitted := h.coordinator != nil && req.IsolationLevel == protocol.ReadCommitted
	if len(fc.order) == 0 {
		h.maybeComplete(fc, 0)
		return pending
	}
	for _, topic := range req.Topics {
		for _, part := range topic.Partitions {
			tp := protocol.TopicPartition{Topic: topic.Name, Partition: part.Partition}
			go h.handlePartition(ctx, fc, tp, part, readCommitted)
		}
	}
	return pending
}

func (h *Handler) handlePartition(ctx context.Context, fc *fetchContext, tp protocol.TopicPartition, part protocol.FetchPartitionRequest, readCommitted bool) {
	md, err := h.oracle.Resolve(ctx, tp.Topic)
	if err != nil {
		h.logger.Warn("resolve migration metadata failed", "topic", tp.Topic, "error", err)
		h.recordError(fc, tp, protocol.REBALANCE_IN_PROGRESS)
		return
	}
	switch migration.Decide(md, part.FetchOffset) {
	case migration.RouteLegacy:
		h.fetchFromLegacy(ctx, fc, tp, part)
		return
	case migration.RouteRebalance:
		h.recordError(fc, tp, protocol.REBALANCE_IN_PROGRESS)
		return
	}

	fullTopicName := h.WatchKey(tp.Topic, tp.Partition)
	authorized, err := h.authorizer.Authorize(ctx, auth.OperationRead, auth.TopicResource(fullTopicName))
	if err != nil {
		h.logger.Error("read authorization failed", "topic", fullTopicName, "error", err)
		h.recordError(fc, tp, protocol.TOPIC_AUTHORIZATION_FAILED)
		return
	}
	if !authorized {
		h.recordError(fc, tp, protocol.TOPIC_AUTHORIZATION_FAILED)
		return
	}
	h.handlePartitionData(ctx, fc, tp, part, fullTopicName, readCommitted)
}

func (h *Handler) fetchFromLegacy(ctx context.Context, fc *fetchContext, tp protocol.TopicPartition, part protocol.FetchPartitionRequest) {
	if h.legacy == nil {
		h.logger.Warn("no legacy reader configured for migrating topic", "topic", tp.Topic)
		h.recordError(fc, tp, protocol.REBALANCE_IN_PROGRESS)
		return
	}
	resp, err := h.legacy.ReadPartition(ctx, tp.Topic, tp.Partition, part.FetchOffset, part.MaxBytes)
	if err != nil {
		h.logger.Error("legacy read failed", "topic", tp.Topic, "partition", tp.Partition, "error", err)
		h.recordError(fc, tp, protocol.KAFKA_STORAGE_ERROR)
		return
	}
	fc.bytesReadable.Add(int64(len(resp.RecordSet)))
	h.recordResponse(fc, tp, resp)
}

func (h *Handler) handlePartitionData(ctx context.Context, fc *fetchContext, tp protocol.TopicPartition, part protocol.FetchPartitionRequest, fullTopicName string, readCommitted bool) {
	tcm, err := h.topics.GetConsumerManager(ctx, fullTopicName)
	if err != nil || tcm == nil {
		fetchPrepareFailures.Inc()
		if err != nil {
			h.logger.Error("get consumer manager failed", "topic", fullTopicName, "error", err)
		}
		h.topics.Invalidate(fullTopicName)
		h.recordError(fc, tp, protocol.NOT_LEADER_OR_FOLLOWER)
		return
	}

	md := metadata.FromProperties(tcm.Properties())
	bias := md.Bias()
	storageOffset := migration.ToStorageOffset(part.FetchOffset, bias)

	// Reading past the log end is caught here so no futile read is issued.
	// Reads below the log start are left to the engine; resolving the log
	// start is too expensive for the fetch hot path.
	if storageOffset > tcm.LogEndOffset() {
		fetchPrepareFailures.Inc()
		h.recordError(fc, tp, protocol.OFFSET_OUT_OF_RANGE)
		return
	}

	cursor, cursorOffset, ok := tcm.RemoveCursor(storageOffset)
	if !ok {
		// Manager closed underneath us. The connection may still be healthy,
		// so report NONE and let the client's next fetch re-resolve.
		fetchPrepareFailures.Inc()
		h.logger.Warn("consumer manager closed, removing cached handle", "topic", fullTopicName)
		h.topics.Invalidate(fullTopicName)
		h.recordError(fc, tp, protocol.NONE)
		return
	}

	adjustedMaxBytes := int64(part.MaxBytes)
	if limit := fc.limitBytes.Load(); limit < adjustedMaxBytes {
		adjustedMaxBytes = limit
	}

	start := time.Now()
	entries, nextOffset, err := h.readEntries(ctx, cursor, cursorOffset, adjustedMaxBytes)
	fetchReadLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		tcm.DropCursor(cursor)
		if errors.Is(err, storage.ErrFenced) || errors.Is(err, storage.ErrCursorClosed) {
			h.topics.Invalidate(fullTopicName)
			h.recordError(fc, tp, protocol.NOT_LEADER_OR_FOLLOWER)
			return
		}
		h.logger.Error("read entries failed", "topic", fullTopicName, "offset", storageOffset, "error", err)
		h.recordError(fc, tp, protocol.KAFKA_STORAGE_ERROR)
		return
	}

	var readSize int64
	for _, entry := range entries {
		readSize += int64(entry.Length())
	}
	fc.limitBytes.Add(-readSize)
	fetchBytesRead.Add(float64(readSize))

	// Hand the cursor back keyed at the new offset so the next fetch from
	// this client/partition pairing reuses it.
	tcm.AddCursor(nextOffset, cursor)

	h.handleEntries(fc, tp, part, tcm, entries, bias, readCommitted)
}

// readEntries performs one bounded cursor read. On a non-empty result the
// next read position is derived from the last entry's batch header and the
// non-durable read marker is advanced so this cursor does not inflate the
// unread backlog.
func (h *Handler) readEntries(ctx context.Context, cursor storage.Cursor, cursorOffset int64, maxBytes int64) ([]storage.Entry, int64, error) {
	if maxBytes <= 0 {
		return nil, cursorOffset, nil
	}
	entries, err := cursor.ReadEntries(ctx, h.cfg.MaxReadEntries, maxBytes)
	if err != nil {
		return nil, cursorOffset, err
	}
	nextOffset := cursorOffset
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		lastOffset, err := storage.PeekLastOffset(last.Data)
		if err != nil {
			return nil, cursorOffset, err
		}
		if err := cursor.MarkRead(last.Position); err != nil {
			// Cumulative acknowledgment; a later mark covers this one.
			h.logger.Warn("mark read failed", "position", last.Position.String(), "error", err)
		}
		nextOffset = lastOffset + 1
	}
	return entries, nextOffset, nil
}

func (h *Handler) handleEntries(fc *fetchContext, tp protocol.TopicPartition, part protocol.FetchPartitionRequest, tcm storage.ConsumerManager, entries []storage.Entry, bias int64, readCommitted bool) {
	highWatermark := migration.ToProtocolOffset(tcm.HighWatermark(), bias)
	lso := highWatermark
	if readCommitted {
		if undecided, ok := h.coordinator.FirstUndecidedOffset(tp); ok {
			lso = undecided
		}
		entries = committedEntries(entries, migration.ToStorageOffset(lso, bias), h.logger)
	}
	if len(entries) == 0 {
		h.recordError(fc, tp, protocol.NONE)
		return
	}
	// Decode is CPU-bound; it runs on its own bounded goroutine so the
	// engine's read callback path is never starved by large batches.
	go h.decodeAndRecord(fc, tp, part, entries, bias, highWatermark, lso, readCommitted)
}

func (h *Handler) decodeAndRecord(fc *fetchContext, tp protocol.TopicPartition, part protocol.FetchPartitionRequest, entries []storage.Entry, bias, highWatermark, lso int64, readCommitted bool) {
	h.decodeSlots <- struct{}{}
	defer func() { <-h.decodeSlots }()

	start := time.Now()
	dr, err := h.decoder.Decode(entries, bias, fc.header.APIVersion)
	fetchDecodeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("decode entries failed", "topic", tp.Topic, "partition", tp.Partition, "error", err)
		h.recordError(fc, tp, protocol.KAFKA_STORAGE_ERROR)
		return
	}
	fc.addDecodeResult(dr)

	var aborted []protocol.AbortedTransaction
	if readCommitted {
		aborted = h.coordinator.AbortedIndexList(tp, part.FetchOffset)
	}

	fc.bytesReadable.Add(int64(dr.Size()))
	h.recordResponse(fc, tp, protocol.FetchPartitionResponse{
		Partition:            tp.Partition,
		ErrorCode:            protocol.NONE,
		HighWatermark:        highWatermark,
		LastStableOffset:     lso,
		LogStartOffset:       highWatermark,
		AbortedTransactions:  aborted,
		PreferredReadReplica: -1,
		RecordSet:            dr.Records,
	})
}

func (h *Handler) recordError(fc *fetchContext, tp protocol.TopicPartition, code int16) {
	if code != protocol.NONE {
		observePartitionError(code)
	}
	n := fc.recordResult(tp, protocol.NewErrorPartitionResponse(tp.Partition, code))
	h.maybeComplete(fc, n)
}

func (h *Handler) recordResponse(fc *fetchContext, tp protocol.TopicPartition, resp protocol.FetchPartitionResponse) {
	n := fc.recordResult(tp, resp)
	h.maybeComplete(fc, n)
}

// maybeComplete claims completion once every requested partition recorded a
// result. The claim hands the request to the purgatory so the
// min-bytes/max-wait contract applies uniformly; requests whose results carry
// errors complete immediately since waiting cannot improve them.
func (h *Handler) maybeComplete(fc *fetchContext, recorded int) {
	if recorded < len(fc.order) {
		return
	}
	if !fc.handoff.CompareAndSwap(false, true) {
		return
	}
	maxWait := time.Duration(fc.request.MaxWaitMs) * time.Millisecond
	delayed := newDelayedFetch(maxWait, fc.request.MinBytes, &fc.bytesReadable, fc.finish)
	if maxWait <= 0 || fc.anyErrorRecorded() {
		delayed.forceComplete()
		return
	}
	keys := make([]string, 0, len(fc.order))
	for _, tp := range fc.order {
		keys = append(keys, h.WatchKey(tp.Topic, tp.Partition))
	}
	h.purgatory.TryCompleteElseWatch(delayed, keys)
}
