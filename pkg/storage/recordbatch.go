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

package storage

import (
	"encoding/binary"
	"fmt"
)

const recordBatchHeaderMinSize = 61

// PeekBaseOffset reads the base offset from the record batch header of an
// entry payload without parsing the records.
func PeekBaseOffset(data []byte) (int64, error) {
	if len(data) < recordBatchHeaderMinSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrCorruptBatch, len(data))
	}
	return int64(binary.BigEndian.Uint64(data[0:8])), nil
}

// PeekLastOffset reads the offset of the last record in the batch, i.e. base
// offset plus last-offset-delta.
func PeekLastOffset(data []byte) (int64, error) {
	if len(data) < recordBatchHeaderMinSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrCorruptBatch, len(data))
	}
	base := int64(binary.BigEndian.Uint64(data[0:8]))
	delta := int32(binary.BigEndian.Uint32(data[23:27]))
	return base + int64(delta), nil
}

// PatchBaseOffset overwrites the base offset field in the record batch header
// in place. Used to shift batches between storage and protocol offset space.
func PatchBaseOffset(data []byte, baseOffset int64) error {
	if len(data) < recordBatchHeaderMinSize {
		return fmt.Errorf("%w: %d bytes", ErrCorruptBatch, len(data))
	}
	binary.BigEndian.PutUint64(data[0:8], uint64(baseOffset))
	return nil
}

// CountBatchMessages sums the record counts encoded in a record set. The
// record set is expected to be a concatenation of Kafka record batches.
func CountBatchMessages(recordSet []byte) int {
	const frameHeaderLen = 12
	if len(recordSet) < recordBatchHeaderMinSize {
		return 0
	}
	total := 0
	offset := 0
	for offset+frameHeaderLen <= len(recordSet) {
		batchLen := int(binary.BigEndian.Uint32(recordSet[offset+8 : offset+12]))
		if batchLen <= 0 {
			break
		}
		frameLen := frameHeaderLen + batchLen
		if offset+frameLen > len(recordSet) {
			break
		}
		batch := recordSet[offset : offset+frameLen]
		if len(batch) < recordBatchHeaderMinSize {
			break
		}
		total += int(binary.BigEndian.Uint32(batch[57:61]))
		offset += frameLen
	}
	return total
}

// NewRecordBatch builds a minimal valid record batch header followed by no
// records, carrying baseOffset, lastOffsetDelta, and messageCount. Tests and
// the in-memory engine use it to fabricate entries with real header layout.
func NewRecordBatch(baseOffset int64, lastOffsetDelta int32, messageCount int32, payload []byte) []byte {
	data := make([]byte, recordBatchHeaderMinSize+len(payload))
	binary.BigEndian.PutUint64(data[0:8], uint64(baseOffset))
	binary.BigEndian.PutUint32(data[8:12], uint32(len(data)-12))
	data[16] = 2 // magic
	binary.BigEndian.PutUint32(data[23:27], uint32(lastOffsetDelta))
	binary.BigEndian.PutUint32(data[57:61], uint32(messageCount))
	copy(data[recordBatchHeaderMinSize:], payload)
	return data
}
