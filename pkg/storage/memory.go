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
	"context"
	"sync"
)

// MemoryEngine is an in-memory TopicManager for development and tests.
type MemoryEngine struct {
	mu       sync.Mutex
	ledgers  map[string]*MemoryLedger
	onAppend func(fullTopicName string)
}

// NewMemoryEngine initializes an empty engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{ledgers: make(map[string]*MemoryLedger)}
}

// OnAppend registers a hook invoked after every append, keyed by ledger name.
// The broker wires this to the fetch purgatory's notification path.
func (e *MemoryEngine) OnAppend(fn func(fullTopicName string)) {
	e.mu.Lock()
	e.onAppend = fn
	e.mu.Unlock()
}

// Ledger returns the named ledger, creating it when absent.
func (e *MemoryEngine) Ledger(fullTopicName string) *MemoryLedger {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, ok := e.ledgers[fullTopicName]
	if !ok {
		ledger = &MemoryLedger{
			name:    fullTopicName,
			props:   make(map[string]string),
			cursors: make(map[int64]*memoryCursor),
			notify:  e.notifyAppend,
		}
		e.ledgers[fullTopicName] = ledger
	}
	return ledger
}

func (e *MemoryEngine) notifyAppend(name string) {
	e.mu.Lock()
	fn := e.onAppend
	e.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

// GetConsumerManager implements TopicManager. A closed ledger resolves to a
// nil manager, mirroring the engine's closed/unready handle signal.
func (e *MemoryEngine) GetConsumerManager(ctx context.Context, fullTopicName string) (ConsumerManager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ledger := e.Ledger(fullTopicName)
	ledger.mu.Lock()
	closed := ledger.closed
	ledger.mu.Unlock()
	if closed {
		return nil, nil
	}
	return ledger, nil
}

// Invalidate implements TopicManager.
func (e *MemoryEngine) Invalidate(fullTopicName string) {
	e.mu.Lock()
	delete(e.ledgers, fullTopicName)
	e.mu.Unlock()
}

// MemoryLedger is one partition's in-memory ledger. It doubles as its own
// ConsumerManager.
type MemoryLedger struct {
	name   string
	notify func(string)

	mu         sync.Mutex
	entries    []Entry
	props      map[string]string
	nextOffset int64
	nextEntry  int64
	fenced     bool
	closed     bool
	cursors    map[int64]*memoryCursor
	marked     Position
}

// Append stores one record batch, assigning it the next storage offset, and
// fires the append notification. Returns the assigned base offset.
func (l *MemoryLedger) Append(batch []byte) int64 {
	l.mu.Lock()
	base := l.nextOffset
	data := append([]byte(nil), batch...)
	_ = PatchBaseOffset(data, base)
	last, err := PeekLastOffset(data)
	if err != nil {
		last = base
	}
	l.entries = append(l.entries, Entry{
		Position: Position{Ledger: 0, Entry: l.nextEntry},
		Data:     data,
	})
	l.nextEntry++
	l.nextOffset = last + 1
	notify := l.notify
	l.mu.Unlock()
	if notify != nil {
		notify(l.name)
	}
	return base
}

// SetProperty attaches a metadata property to the ledger.
func (l *MemoryLedger) SetProperty(key, value string) {
	l.mu.Lock()
	l.props[key] = value
	l.mu.Unlock()
}

// Fence marks the ledger fenced so subsequent reads fail with ErrFenced.
func (l *MemoryLedger) Fence() {
	l.mu.Lock()
	l.fenced = true
	l.mu.Unlock()
}

// MarkedPosition returns the last non-durable read marker.
func (l *MemoryLedger) MarkedPosition() Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marked
}

func (l *MemoryLedger) RemoveCursor(offset int64) (Cursor, int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, 0, false
	}
	if cursor, ok := l.cursors[offset]; ok {
		delete(l.cursors, offset)
		return cursor, offset, true
	}
	return &memoryCursor{ledger: l, offset: offset}, offset, true
}

func (l *MemoryLedger) AddCursor(offset int64, cursor Cursor) {
	mc, ok := cursor.(*memoryCursor)
	if !ok {
		return
	}
	l.mu.Lock()
	if !l.closed {
		l.cursors[offset] = mc
	}
	l.mu.Unlock()
}

func (l *MemoryLedger) DropCursor(Cursor) {}

func (l *MemoryLedger) LogEndOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOffset
}

func (l *MemoryLedger) HighWatermark() int64 {
	// Single-replica engine: everything appended is durable.
	return l.LogEndOffset()
}

func (l *MemoryLedger) Properties() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	props := make(map[string]string, len(l.props))
	for k, v := range l.props {
		props[k] = v
	}
	return props
}

func (l *MemoryLedger) Close() {
	l.mu.Lock()
	l.closed = true
	l.cursors = make(map[int64]*memoryCursor)
	l.mu.Unlock()
}

type memoryCursor struct {
	ledger *MemoryLedger

	mu     sync.Mutex
	offset int64
}

func (c *memoryCursor) ReadEntries(ctx context.Context, maxEntries int, maxBytes int64) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrCursorClosed
	}
	if l.fenced {
		return nil, ErrFenced
	}
	var out []Entry
	var bytes int64
	for _, entry := range l.entries {
		last, err := PeekLastOffset(entry.Data)
		if err != nil {
			last = -1
		}
		if last < c.offset {
			continue
		}
		if len(out) >= maxEntries || (len(out) > 0 && bytes+int64(len(entry.Data)) > maxBytes) {
			break
		}
		out = append(out, entry)
		bytes += int64(len(entry.Data))
		c.offset = last + 1
	}
	return out, nil
}

func (c *memoryCursor) MarkRead(pos Position) error {
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrCursorClosed
	}
	l.marked = pos
	return nil
}
