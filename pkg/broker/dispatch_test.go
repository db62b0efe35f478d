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
	"io"
	"log/slog"
	"testing"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/streamgate/kafbridge/pkg/fetch"
	"github.com/streamgate/kafbridge/pkg/metadata"
	"github.com/streamgate/kafbridge/pkg/migration"
	"github.com/streamgate/kafbridge/pkg/protocol"
	"github.com/streamgate/kafbridge/pkg/storage"
)

func testDispatcher(t *testing.T, engine *storage.MemoryEngine) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := fetch.NewHandler(fetch.Config{Namespace: "test-ns"}, fetch.Deps{
		Topics: engine,
		Oracle: migration.NewOracle(metadata.NewInMemoryStore()),
		Logger: logger,
	})
	return NewDispatcher(handler, logger)
}

// requestHeader builds a non-flexible request header followed by body.
func requestHeader(apiKey, version int16, correlationID int32, clientID string, body []byte) []byte {
	payload := make([]byte, 0, 10+len(clientID)+len(body))
	payload = binary.BigEndian.AppendUint16(payload, uint16(apiKey))
	payload = binary.BigEndian.AppendUint16(payload, uint16(version))
	payload = binary.BigEndian.AppendUint32(payload, uint32(correlationID))
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(clientID)))
	payload = append(payload, clientID...)
	return append(payload, body...)
}

func TestDispatchFetchRoundTrip(t *testing.T) {
	engine := storage.NewMemoryEngine()
	full := storage.FullTopicName("test-ns", "orders", 0)
	engine.Ledger(full).Append(storage.NewRecordBatch(0, 0, 1, []byte("v")))
	engine.Ledger(full).Append(storage.NewRecordBatch(0, 0, 1, []byte("v")))

	d := testDispatcher(t, engine)

	kreq := kmsg.NewPtrFetchRequest()
	kreq.SetVersion(11)
	kreq.ReplicaID = -1
	kreq.MaxWaitMillis = 0
	kreq.MinBytes = 1
	kreq.MaxBytes = 1 << 20
	kreq.SessionID = 77
	topic := kmsg.NewFetchRequestTopic()
	topic.Topic = "orders"
	part := kmsg.NewFetchRequestTopicPartition()
	part.Partition = 0
	part.FetchOffset = 0
	part.PartitionMaxBytes = 1 << 20
	topic.Partitions = append(topic.Partitions, part)
	kreq.Topics = append(kreq.Topics, topic)

	payload := requestHeader(protocol.APIKeyFetch, 11, 7, "tester", kreq.AppendTo(nil))
	out, err := d.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(out) < 4 {
		t.Fatalf("response too short: %d bytes", len(out))
	}
	if got := int32(binary.BigEndian.Uint32(out[0:4])); got != 7 {
		t.Fatalf("correlation id = %d, want 7", got)
	}

	kresp := kmsg.NewPtrFetchResponse()
	kresp.SetVersion(11)
	if err := kresp.ReadFrom(out[4:]); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	if kresp.SessionID != 77 {
		t.Fatalf("session id = %d, want 77", kresp.SessionID)
	}
	if len(kresp.Topics) != 1 || kresp.Topics[0].Topic != "orders" {
		t.Fatalf("topics = %+v", kresp.Topics)
	}
	kp := kresp.Topics[0].Partitions
	if len(kp) != 1 || kp[0].Partition != 0 {
		t.Fatalf("partitions = %+v", kp)
	}
	if kp[0].ErrorCode != protocol.NONE {
		t.Fatalf("error code = %d, want NONE", kp[0].ErrorCode)
	}
	if kp[0].HighWatermark != 2 {
		t.Fatalf("high watermark = %d, want 2", kp[0].HighWatermark)
	}
	if got := storage.CountBatchMessages(kp[0].RecordBatches); got != 2 {
		t.Fatalf("message count = %d, want 2", got)
	}
}

func TestDispatchFetchRejectsUnsupportedVersion(t *testing.T) {
	d := testDispatcher(t, storage.NewMemoryEngine())
	payload := requestHeader(protocol.APIKeyFetch, 3, 1, "tester", nil)
	if _, err := d.Handle(context.Background(), payload); err == nil {
		t.Fatalf("expected error for fetch v3")
	}
}

func TestDispatchApiVersions(t *testing.T) {
	d := testDispatcher(t, storage.NewMemoryEngine())
	payload := requestHeader(protocol.APIKeyApiVersions, 2, 99, "tester", nil)
	out, err := d.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := int32(binary.BigEndian.Uint32(out[0:4])); got != 99 {
		t.Fatalf("correlation id = %d, want 99", got)
	}

	resp := kmsg.NewPtrApiVersionsResponse()
	resp.SetVersion(2)
	if err := resp.ReadFrom(out[4:]); err != nil {
		t.Fatalf("decode api versions response: %v", err)
	}
	if resp.ErrorCode != protocol.NONE {
		t.Fatalf("error code = %d, want NONE", resp.ErrorCode)
	}
	var sawFetch bool
	for _, key := range resp.ApiKeys {
		if key.ApiKey == protocol.APIKeyFetch {
			sawFetch = true
			if key.MinVersion != 4 || key.MaxVersion != 11 {
				t.Fatalf("fetch version range = [%d, %d], want [4, 11]", key.MinVersion, key.MaxVersion)
			}
		}
	}
	if !sawFetch {
		t.Fatalf("fetch key missing from api versions response: %+v", resp.ApiKeys)
	}
}

func TestDispatchApiVersionsUnsupportedVersion(t *testing.T) {
	d := testDispatcher(t, storage.NewMemoryEngine())
	// Flexible header versions carry an empty tagged-field section after the
	// client id.
	payload := requestHeader(protocol.APIKeyApiVersions, 9, 5, "tester", nil)
	payload = append(payload, 0x00)

	out, err := d.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	resp := kmsg.NewPtrApiVersionsResponse()
	resp.SetVersion(0)
	if err := resp.ReadFrom(out[4:]); err != nil {
		t.Fatalf("decode api versions response at v0: %v", err)
	}
	if resp.ErrorCode != protocol.UNSUPPORTED_VERSION {
		t.Fatalf("error code = %d, want UNSUPPORTED_VERSION", resp.ErrorCode)
	}
}

func TestDispatchRejectsUnknownAPIKey(t *testing.T) {
	d := testDispatcher(t, storage.NewMemoryEngine())
	payload := requestHeader(3, 0, 1, "tester", nil)
	if _, err := d.Handle(context.Background(), payload); err == nil {
		t.Fatalf("expected error for unsupported api key")
	}
}

func TestParseRequestHeader(t *testing.T) {
	payload := requestHeader(protocol.APIKeyFetch, 11, 42, "client-a", []byte{0xde, 0xad})
	header, body, err := parseRequestHeader(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if header.APIKey != protocol.APIKeyFetch || header.APIVersion != 11 {
		t.Fatalf("header = %+v", header)
	}
	if header.CorrelationID != 42 || header.ClientID != "client-a" {
		t.Fatalf("header = %+v", header)
	}
	if len(body) != 2 || body[0] != 0xde {
		t.Fatalf("body = %x", body)
	}

	if _, _, err := parseRequestHeader(payload[:6]); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}

func TestParseRequestHeaderNullClientID(t *testing.T) {
	payload := make([]byte, 0, 12)
	payload = binary.BigEndian.AppendUint16(payload, uint16(protocol.APIKeyFetch))
	payload = binary.BigEndian.AppendUint16(payload, 11)
	payload = binary.BigEndian.AppendUint32(payload, 9)
	payload = binary.BigEndian.AppendUint16(payload, 0xffff) // null client id

	header, body, err := parseRequestHeader(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if header.ClientID != "" {
		t.Fatalf("client id = %q, want empty", header.ClientID)
	}
	if len(body) != 0 {
		t.Fatalf("body = %x, want empty", body)
	}
}
