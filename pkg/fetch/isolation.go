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
	"log/slog"

	"github.com/streamgate/kafbridge/pkg/storage"
)

// committedEntries filters entries down to those visible to a read-committed
// consumer: base offset at or below lso (storage space). Entries are
// contiguous and ordered by increasing offset, so the scan stops at the first
// entry past the boundary without inspecting the rest. An entry whose batch
// header cannot be read is skipped with a logged anomaly, not treated as
// fatal.
func committedEntries(entries []storage.Entry, lso int64, logger *slog.Logger) []storage.Entry {
	committed := make([]storage.Entry, 0, len(entries))
	for _, entry := range entries {
		base, err := storage.PeekBaseOffset(entry.Data)
		if err != nil {
			logger.Error("failed to peek base offset from entry", "position", entry.Position.String(), "error", err)
			continue
		}
		if base > lso {
			break
		}
		committed = append(committed, entry)
	}
	return committed
}
