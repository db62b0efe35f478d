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
	"sync"
	"sync/atomic"
	"time"
)

// DelayedFetch defers a fetch's completion until enough bytes accumulate
// across its watched partitions or its deadline passes. The completion
// callback runs exactly once no matter which transition fires, or how many
// partition notifications race with the timer.
type DelayedFetch struct {
	minBytes      int32
	bytesReadable *atomic.Int64
	maxWait       time.Duration
	onComplete    func()

	completed atomic.Bool
}

func newDelayedFetch(maxWait time.Duration, minBytes int32, bytesReadable *atomic.Int64, onComplete func()) *DelayedFetch {
	return &DelayedFetch{
		minBytes:      minBytes,
		bytesReadable: bytesReadable,
		maxWait:       maxWait,
		onComplete:    onComplete,
	}
}

// tryComplete completes the operation when the byte threshold is satisfied.
func (d *DelayedFetch) tryComplete() bool {
	if d.bytesReadable.Load() >= int64(d.minBytes) {
		return d.forceComplete()
	}
	return false
}

// forceComplete claims the terminal state and runs the callback. Returns
// false when the operation already completed or was cancelled.
func (d *DelayedFetch) forceComplete() bool {
	if !d.completed.CompareAndSwap(false, true) {
		return false
	}
	d.onComplete()
	return true
}

// cancel discards the operation without running the callback.
func (d *DelayedFetch) cancel() {
	d.completed.Store(true)
}

func (d *DelayedFetch) done() bool {
	return d.completed.Load()
}

// Purgatory parks delayed fetches against per-partition watch keys until a
// producer-side notification or the deadline completes them.
type Purgatory struct {
	mu       sync.Mutex
	watchers map[string][]*DelayedFetch
}

// NewPurgatory initializes an empty purgatory.
func NewPurgatory() *Purgatory {
	return &Purgatory{watchers: make(map[string][]*DelayedFetch)}
}

// TryCompleteElseWatch completes op immediately when its threshold is already
// satisfied; otherwise it registers op against each watch key and arms the
// deadline timer. The timer always fires so each parked operation is pruned
// and accounted for exactly once.
func (p *Purgatory) TryCompleteElseWatch(op *DelayedFetch, keys []string) {
	if op.tryComplete() {
		return
	}
	p.mu.Lock()
	for _, key := range keys {
		p.watchers[key] = append(p.watchers[key], op)
	}
	p.mu.Unlock()
	purgatoryPending.Inc()

	time.AfterFunc(op.maxWait, func() {
		op.forceComplete()
		p.prune(keys)
		purgatoryPending.Dec()
	})

	// A notification may have landed between the first check and the watch
	// registration; check once more so it is not lost.
	op.tryComplete()
}

// CheckAndComplete attempts to complete every fetch watching key. Returns how
// many completed.
func (p *Purgatory) CheckAndComplete(key string) int {
	p.mu.Lock()
	watching := p.watchers[key]
	remaining := watching[:0]
	completed := 0
	for _, op := range watching {
		if op.done() {
			continue
		}
		if op.tryComplete() {
			completed++
			continue
		}
		remaining = append(remaining, op)
	}
	if len(remaining) == 0 {
		delete(p.watchers, key)
	} else {
		p.watchers[key] = remaining
	}
	p.mu.Unlock()
	return completed
}

// prune drops completed or cancelled watchers from the given keys.
func (p *Purgatory) prune(keys []string) {
	p.mu.Lock()
	for _, key := range keys {
		watching := p.watchers[key]
		remaining := watching[:0]
		for _, op := range watching {
			if !op.done() {
				remaining = append(remaining, op)
			}
		}
		if len(remaining) == 0 {
			delete(p.watchers, key)
		} else {
			p.watchers[key] = remaining
		}
	}
	p.mu.Unlock()
}

// Watching returns the number of operations watching key.
func (p *Purgatory) Watching(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers[key])
}
