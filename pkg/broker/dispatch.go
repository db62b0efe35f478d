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

package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/streamgate/kafbridge/pkg/fetch"
	"github.com/streamgate/kafbridge/pkg/protocol"
)

// Supported version ranges per API key. Fetch stays below v12 so request and
// response headers remain non-flexible.
const (
	fetchMinVersion int16 = 4
	fetchMaxVersion int16 = 11

	apiVersionsMaxVersion int16 = 2
)

// supportedAPIs is the version table advertised in ApiVersions responses.
var supportedAPIs = []protocol.ApiVersion{
	{APIKey: protocol.APIKeyFetch, MinVersion: fetchMinVersion, MaxVersion: fetchMaxVersion},
	{APIKey: protocol.APIKeyApiVersions, MinVersion: 0, MaxVersion: apiVersionsMaxVersion},
}

// Dispatcher decodes framed Kafka requests with the kmsg wire codec, routes
// Fetch to the fetch handler, and encodes responses. Decode buffers held by a
// fetch response are released after the response bytes are assembled.
type Dispatcher struct {
	fetch  *fetch.Handler
	logger *slog.Logger
}

func NewDispatcher(handler *fetch.Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{fetch: handler, logger: logger.With("component", "dispatch")}
}

// Handle implements the server Handler over a raw request payload.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	header, body, err := parseRequestHeader(payload)
	if err != nil {
		return nil, err
	}
	switch header.APIKey {
	case protocol.APIKeyApiVersions:
		return d.handleApiVersions(header)
	case protocol.APIKeyFetch:
		return d.handleFetch(ctx, header, body)
	default:
		return nil, fmt.Errorf("unsupported api key %d", header.APIKey)
	}
}

func (d *Dispatcher) handleApiVersions(header *protocol.RequestHeader) ([]byte, error) {
	resp := kmsg.NewPtrApiVersionsResponse()
	version := header.APIVersion
	if version > apiVersionsMaxVersion || version < 0 {
		// Per protocol convention the response to an unsupported
		// ApiVersions version is readable at v0.
		version = 0
		resp.ErrorCode = protocol.UNSUPPORTED_VERSION
	}
	resp.SetVersion(version)

	for _, api := range supportedAPIs {
		key := kmsg.NewApiVersionsResponseApiKey()
		key.ApiKey = api.APIKey
		key.MinVersion = api.MinVersion
		key.MaxVersion = api.MaxVersion
		resp.ApiKeys = append(resp.ApiKeys, key)
	}

	// The ApiVersions response header is always v0.
	out := make([]byte, 0, 64)
	out = binary.BigEndian.AppendUint32(out, uint32(header.CorrelationID))
	return resp.AppendTo(out), nil
}

func (d *Dispatcher) handleFetch(ctx context.Context, header *protocol.RequestHeader, body []byte) ([]byte, error) {
	if header.APIVersion < fetchMinVersion || header.APIVersion > fetchMaxVersion {
		return nil, fmt.Errorf("unsupported fetch version %d", header.APIVersion)
	}
	kreq := kmsg.NewPtrFetchRequest()
	kreq.SetVersion(header.APIVersion)
	if err := kreq.ReadFrom(body); err != nil {
		return nil, fmt.Errorf("decode fetch request: %w", err)
	}
	req := fetchRequestFromWire(kreq)

	pending := d.fetch.HandleFetch(ctx, *header, req)
	result, ok := <-pending.Results()
	if !ok {
		return nil, ctx.Err()
	}
	if result.Release != nil {
		defer result.Release()
	}

	kresp := fetchResponseToWire(result.Response, header.APIVersion, kreq.SessionID)
	out := make([]byte, 0, responseSizeHint(result.Response))
	out = binary.BigEndian.AppendUint32(out, uint32(header.CorrelationID))
	return kresp.AppendTo(out), nil
}

func fetchRequestFromWire(kreq *kmsg.FetchRequest) *protocol.FetchRequest {
	req := &protocol.FetchRequest{
		ReplicaID:      kreq.ReplicaID,
		MaxWaitMs:      kreq.MaxWaitMillis,
		MinBytes:       kreq.MinBytes,
		MaxBytes:       kreq.MaxBytes,
		IsolationLevel: kreq.IsolationLevel,
		SessionID:      kreq.SessionID,
		SessionEpoch:   kreq.SessionEpoch,
		Topics:         make([]protocol.FetchTopicRequest, 0, len(kreq.Topics)),
	}
	for _, kt := range kreq.Topics {
		topic := protocol.FetchTopicRequest{
			Name:       kt.Topic,
			Partitions: make([]protocol.FetchPartitionRequest, 0, len(kt.Partitions)),
		}
		for _, kp := range kt.Partitions {
			topic.Partitions = append(topic.Partitions, protocol.FetchPartitionRequest{
				Partition:   kp.Partition,
				FetchOffset: kp.FetchOffset,
				MaxBytes:    kp.PartitionMaxBytes,
			})
		}
		req.Topics = append(req.Topics, topic)
	}
	return req
}

func fetchResponseToWire(resp *protocol.FetchResponse, version int16, sessionID int32) *kmsg.FetchResponse {
	kresp := kmsg.NewPtrFetchResponse()
	kresp.SetVersion(version)
	kresp.ThrottleMillis = resp.ThrottleMs
	kresp.ErrorCode = resp.ErrorCode
	kresp.SessionID = sessionID
	kresp.Topics = make([]kmsg.FetchResponseTopic, 0, len(resp.Topics))
	for _, topic := range resp.Topics {
		kt := kmsg.NewFetchResponseTopic()
		kt.Topic = topic.Name
		kt.Partitions = make([]kmsg.FetchResponseTopicPartition, 0, len(topic.Partitions))
		for _, part := range topic.Partitions {
			kp := kmsg.NewFetchResponseTopicPartition()
			kp.Partition = part.Partition
			kp.ErrorCode = part.ErrorCode
			kp.HighWatermark = part.HighWatermark
			kp.LastStableOffset = part.LastStableOffset
			kp.LogStartOffset = part.LogStartOffset
			kp.PreferredReadReplica = part.PreferredReadReplica
			kp.RecordBatches = part.RecordSet
			for _, txn := range part.AbortedTransactions {
				at := kmsg.NewFetchResponseTopicPartitionAbortedTransaction()
				at.ProducerID = txn.ProducerID
				at.FirstOffset = txn.FirstOffset
				kp.AbortedTransactions = append(kp.AbortedTransactions, at)
			}
			kt.Partitions = append(kt.Partitions, kp)
		}
		kresp.Topics = append(kresp.Topics, kt)
	}
	return kresp
}

func responseSizeHint(resp *protocol.FetchResponse) int {
	size := 64
	for _, topic := range resp.Topics {
		size += 32 + len(topic.Name)
		for _, part := range topic.Partitions {
			size += 64 + len(part.RecordSet)
		}
	}
	return size
}

// parseRequestHeader decodes the common Kafka request header. Flexible header
// versions carry a tagged-field section after the client ID.
func parseRequestHeader(payload []byte) (*protocol.RequestHeader, []byte, error) {
	if len(payload) < 8 {
		return nil, nil, fmt.Errorf("request header truncated: %d bytes", len(payload))
	}
	header := &protocol.RequestHeader{
		APIKey:        int16(binary.BigEndian.Uint16(payload[0:2])),
		APIVersion:    int16(binary.BigEndian.Uint16(payload[2:4])),
		CorrelationID: int32(binary.BigEndian.Uint32(payload[4:8])),
	}
	rest := payload[8:]
	if len(rest) < 2 {
		return nil, nil, fmt.Errorf("request header truncated: missing client id")
	}
	clientIDLen := int16(binary.BigEndian.Uint16(rest[0:2]))
	rest = rest[2:]
	if clientIDLen >= 0 {
		if len(rest) < int(clientIDLen) {
			return nil, nil, fmt.Errorf("request header truncated: client id length %d", clientIDLen)
		}
		header.ClientID = string(rest[:clientIDLen])
		rest = rest[clientIDLen:]
	}
	if flexibleHeader(header.APIKey, header.APIVersion) {
		var err error
		rest, err = skipTaggedFields(rest)
		if err != nil {
			return nil, nil, err
		}
	}
	return header, rest, nil
}

func flexibleHeader(apiKey, version int16) bool {
	switch apiKey {
	case protocol.APIKeyFetch:
		return version >= 12
	case protocol.APIKeyApiVersions:
		return version >= 3
	default:
		return false
	}
}

func skipTaggedFields(buf []byte) ([]byte, error) {
	numTags, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, fmt.Errorf("request header: malformed tag count")
	}
	buf = buf[n:]
	for i := uint64(0); i < numTags; i++ {
		_, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("request header: malformed tag")
		}
		buf = buf[n:]
		size, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("request header: malformed tag size")
		}
		buf = buf[n:]
		if uint64(len(buf)) < size {
			return nil, fmt.Errorf("request header: truncated tag value")
		}
		buf = buf[size:]
	}
	return buf, nil
}
