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

package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/streamgate/kafbridge/pkg/protocol"
)

const defaultLegacyPollWait = 100 * time.Millisecond

// ErrPoolClosed is returned when a client is requested after Close.
var ErrPoolClosed = errors.New("legacy client pool closed")

// ClientPool caches one franz-go client per topic against the legacy Kafka
// cluster. Clients are reused across fetches; Close is idempotent.
type ClientPool struct {
	seeds  []string
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*kgo.Client
	closed  bool
}

// NewClientPool builds a pool dialing the given legacy seed brokers.
func NewClientPool(seeds []string, logger *slog.Logger) *ClientPool {
	return &ClientPool{
		seeds:   seeds,
		logger:  logger.With("component", "legacy-pool"),
		clients: make(map[string]*kgo.Client),
	}
}

// ClientFor returns the cached client for a topic, dialing one when absent.
func (p *ClientPool) ClientFor(topic string) (*kgo.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if client, ok := p.clients[topic]; ok {
		return client, nil
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(p.seeds...))
	if err != nil {
		return nil, fmt.Errorf("dial legacy cluster for topic %q: %w", topic, err)
	}
	p.clients[topic] = client
	return client, nil
}

// Close shuts down every cached client.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for topic, client := range p.clients {
		client.Close()
		delete(p.clients, topic)
	}
}

// LegacyClients abstracts the client pool for the reader; tests substitute a
// fake issuing canned responses.
type LegacyClients interface {
	ClientFor(topic string) (*kgo.Client, error)
}

// Reader proxies a single partition's fetch to the legacy Kafka cluster. Used
// while a topic's migration has not started, or for offsets that predate the
// migration cutover.
type Reader struct {
	clients  LegacyClients
	pollWait time.Duration
	logger   *slog.Logger
}

// NewReader builds a reader over the given clients. pollWait bounds how long
// a legacy fetch blocks; zero applies the default of 100ms.
func NewReader(clients LegacyClients, pollWait time.Duration, logger *slog.Logger) *Reader {
	if pollWait <= 0 {
		pollWait = defaultLegacyPollWait
	}
	return &Reader{
		clients:  clients,
		pollWait: pollWait,
		logger:   logger.With("component", "legacy-reader"),
	}
}

// ReadPartition seeks the legacy cluster to fetchOffset and performs one short
// bounded poll. An empty poll yields a NONE-error empty result. Any client
// error surfaces to the caller; it never blocks other partitions.
func (r *Reader) ReadPartition(ctx context.Context, topic string, partition int32, fetchOffset int64, maxBytes int32) (protocol.FetchPartitionResponse, error) {
	client, err := r.clients.ClientFor(topic)
	if err != nil {
		return protocol.FetchPartitionResponse{}, err
	}

	req := kmsg.NewPtrFetchRequest()
	req.Version = 11
	req.MinBytes = 1
	req.MaxBytes = maxBytes
	req.MaxWaitMillis = int32(r.pollWait / time.Millisecond)
	reqTopic := kmsg.NewFetchRequestTopic()
	reqTopic.Topic = topic
	reqPartition := kmsg.NewFetchRequestTopicPartition()
	reqPartition.Partition = partition
	reqPartition.FetchOffset = fetchOffset
	reqPartition.PartitionMaxBytes = maxBytes
	reqTopic.Partitions = append(reqTopic.Partitions, reqPartition)
	req.Topics = append(req.Topics, reqTopic)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return protocol.FetchPartitionResponse{}, fmt.Errorf("legacy fetch %s-%d@%d: %w", topic, partition, fetchOffset, err)
	}
	if len(resp.Topics) < 1 || len(resp.Topics[0].Partitions) < 1 {
		return protocol.FetchPartitionResponse{}, fmt.Errorf("legacy fetch %s-%d: malformed response", topic, partition)
	}
	part := resp.Topics[0].Partitions[0]
	if part.ErrorCode != 0 {
		return protocol.FetchPartitionResponse{}, fmt.Errorf("legacy fetch %s-%d: error code %d", topic, partition, part.ErrorCode)
	}
	if len(part.RecordBatches) == 0 {
		r.logger.Debug("legacy poll empty", "topic", topic, "partition", partition, "offset", fetchOffset)
		return protocol.NewErrorPartitionResponse(partition, protocol.NONE), nil
	}
	return protocol.FetchPartitionResponse{
		Partition:            partition,
		ErrorCode:            protocol.NONE,
		HighWatermark:        part.HighWatermark,
		LastStableOffset:     part.LastStableOffset,
		LogStartOffset:       part.LogStartOffset,
		PreferredReadReplica: -1,
		RecordSet:            part.RecordBatches,
	}, nil
}
