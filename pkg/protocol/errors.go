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

// Kafka protocol error codes surfaced by the fetch path. Values follow the
// Kafka protocol error table.
const (
	UNKNOWN_SERVER_ERROR       int16 = -1
	NONE                       int16 = 0
	OFFSET_OUT_OF_RANGE        int16 = 1
	CORRUPT_MESSAGE            int16 = 2
	UNKNOWN_TOPIC_OR_PARTITION int16 = 3
	NOT_LEADER_OR_FOLLOWER     int16 = 6
	REQUEST_TIMED_OUT          int16 = 7
	REBALANCE_IN_PROGRESS      int16 = 27
	TOPIC_AUTHORIZATION_FAILED int16 = 29
	UNSUPPORTED_VERSION        int16 = 35
	KAFKA_STORAGE_ERROR        int16 = 56
)
