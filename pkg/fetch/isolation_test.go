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
	"testing"

	"github.com/streamgate/kafbridge/pkg/storage"
)

func entriesWithBases(bases ...int64) []storage.Entry {
	out := make([]storage.Entry, 0, len(bases))
	for i, base := range bases {
		out = append(out, storage.Entry{
			Position: storage.Position{Ledger: 1, Entry: int64(i)},
			Data:     storage.NewRecordBatch(base, 0, 1, nil),
		})
	}
	return out
}

func TestCommittedEntriesFiltersPastLSO(t *testing.T) {
	entries := entriesWithBases(10, 11, 12, 13)

	got := committedEntries(entries, 11, quietLogger())
	if len(got) != 2 {
		t.Fatalf("committed entries = %d, want 2", len(got))
	}
	for i, want := range []int64{10, 11} {
		base, err := storage.PeekBaseOffset(got[i].Data)
		if err != nil {
			t.Fatalf("peek base offset: %v", err)
		}
		if base != want {
			t.Fatalf("entry %d base = %d, want %d", i, base, want)
		}
	}
}

func TestCommittedEntriesAllBeyondLSO(t *testing.T) {
	entries := entriesWithBases(10, 11, 12, 13)
	if got := committedEntries(entries, 9, quietLogger()); len(got) != 0 {
		t.Fatalf("committed entries = %d, want 0", len(got))
	}
}

func TestCommittedEntriesSkipsCorruptEntry(t *testing.T) {
	entries := entriesWithBases(10)
	entries = append([]storage.Entry{{Data: []byte("short")}}, entries...)

	got := committedEntries(entries, 20, quietLogger())
	if len(got) != 1 {
		t.Fatalf("committed entries = %d, want 1 (corrupt entry skipped)", len(got))
	}
}
