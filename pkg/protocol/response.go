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

package protocol

// Sentinels reported for fields that carry no meaningful value on an error
// partition.
const (
	InvalidHighWatermark    int64 = -1
	InvalidLastStableOffset int64 = -1
	InvalidLogStartOffset   int64 = -1
)

// FetchResponse is the assembled response for one fetch request. Topics appear
// in the original request order.
type FetchResponse struct {
	CorrelationID int32
	ThrottleMs    int32
	ErrorCode     int16
	SessionID     int32
	Topics        []FetchTopicResponse
}

type FetchTopicResponse struct {
	Name       string
	Partitions []FetchPartitionResponse
}

// FetchPartitionResponse carries one partition's outcome. RecordSet is an
// opaque concatenation of Kafka record batches.
type FetchPartitionResponse struct {
	Partition            int32
	ErrorCode            int16
	HighWatermark        int64
	LastStableOffset     int64
	LogStartOffset       int64
	AbortedTransactions  []AbortedTransaction
	PreferredReadReplica int32
	RecordSet            []byte
}

// AbortedTransaction marks a producer's aborted range for read-committed
// consumers.
type AbortedTransaction struct {
	ProducerID  int64
	FirstOffset int64
}

// NewErrorPartitionResponse builds a partition response carrying only an error
// code and invalid sentinels.
func NewErrorPartitionResponse(partition int32, code int16) FetchPartitionResponse {
	return FetchPartitionResponse{
		Partition:            partition,
		ErrorCode:            code,
		HighWatermark:        InvalidHighWatermark,
		LastStableOffset:     InvalidLastStableOffset,
		LogStartOffset:       InvalidLogStartOffset,
		PreferredReadReplica: -1,
	}
}
