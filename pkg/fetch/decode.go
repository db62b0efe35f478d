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

package fetch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/streamgate/kafbridge/pkg/storage"
)

// DecodeResult carries a protocol-ready record set decoded from ledger
// entries, backed by a pooled buffer. Release returns the buffer to the pool;
// it runs at most once regardless of how many paths race to call it.
type DecodeResult struct {
	Records []byte

	released atomic.Bool
	release  func()
}

// Size returns the record set size in bytes.
func (r *DecodeResult) Size() int {
	return len(r.Records)
}

// Release returns the backing buffer. Idempotent.
func (r *DecodeResult) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.release != nil {
		r.release()
	}
}

// Decoder translates ledger entries into a Kafka record set with offsets in
// protocol space. Decoding is CPU-bound and must run off the ledger engine's
// I/O callback goroutine.
type Decoder interface {
	Decode(entries []storage.Entry, bias int64, apiVersion int16) (*DecodeResult, error)
}

// EntryDecoder copies entry payloads into one pooled buffer and shifts each
// batch's base offset by the migration bias. Entries already hold Kafka
// record batches, so no per-record re-encoding happens.
type EntryDecoder struct {
	pool sync.Pool
}

// NewEntryDecoder initializes the decoder and its buffer pool.
func NewEntryDecoder() *EntryDecoder {
	return &EntryDecoder{
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, 16<<10)
				return &buf
			},
		},
	}
}

// Decode implements Decoder.
func (d *EntryDecoder) Decode(entries []storage.Entry, bias int64, apiVersion int16) (*DecodeResult, error) {
	total := 0
	for _, entry := range entries {
		total += entry.Length()
	}
	bufPtr := d.pool.Get().(*[]byte)
	buf := (*bufPtr)[:0]
	if cap(buf) < total {
		buf = make([]byte, 0, total)
		*bufPtr = buf
	}
	for _, entry := range entries {
		start := len(buf)
		buf = append(buf, entry.Data...)
		base, err := storage.PeekBaseOffset(buf[start:])
		if err != nil {
			*bufPtr = buf[:0]
			d.pool.Put(bufPtr)
			return nil, fmt.Errorf("decode entry at %s: %w", entry.Position, err)
		}
		if err := storage.PatchBaseOffset(buf[start:], base+bias); err != nil {
			*bufPtr = buf[:0]
			d.pool.Put(bufPtr)
			return nil, fmt.Errorf("decode entry at %s: %w", entry.Position, err)
		}
	}
	*bufPtr = buf
	return &DecodeResult{
		Records: buf,
		release: func() {
			d.pool.Put(bufPtr)
		},
	}, nil
}
