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

import "fmt"

// RequestHeader carries the already-parsed Kafka request header fields the
// fetch path cares about. Wire parsing happens in the dispatcher codec.
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      string
}

// FetchRequest represents a Kafka FetchRequest. It is immutable once built;
// the orchestrator derives the final response partition order from Topics.
type FetchRequest struct {
	ReplicaID      int32
	MaxWaitMs      int32
	MinBytes       int32
	MaxBytes       int32
	IsolationLevel int8
	SessionID      int32
	SessionEpoch   int32
	Topics         []FetchTopicRequest
}

type FetchTopicRequest struct {
	Name       string
	Partitions []FetchPartitionRequest
}

type FetchPartitionRequest struct {
	Partition   int32
	FetchOffset int64
	MaxBytes    int32
}

// TopicPartition identifies one requested partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Partitions returns the requested partitions in request order.
func (r *FetchRequest) Partitions() []TopicPartition {
	out := make([]TopicPartition, 0, len(r.Topics))
	for _, topic := range r.Topics {
		for _, part := range topic.Partitions {
			out = append(out, TopicPartition{Topic: topic.Name, Partition: part.Partition})
		}
	}
	return out
}
