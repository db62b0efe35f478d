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
	"testing"
	"time"
)

func TestDelayedFetchCompletesOnce(t *testing.T) {
	var bytesReadable atomic.Int64
	var completions atomic.Int32
	op := newDelayedFetch(time.Second, 10, &bytesReadable, func() { completions.Add(1) })

	if op.tryComplete() {
		t.Fatalf("tryComplete succeeded below the byte threshold")
	}
	bytesReadable.Store(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op.tryComplete()
			op.forceComplete()
		}()
	}
	wg.Wait()
	if got := completions.Load(); got != 1 {
		t.Fatalf("completion callback ran %d times, want 1", got)
	}
}

func TestDelayedFetchCancelSuppressesCallback(t *testing.T) {
	var bytesReadable atomic.Int64
	bytesReadable.Store(100)
	var completions atomic.Int32
	op := newDelayedFetch(time.Second, 1, &bytesReadable, func() { completions.Add(1) })

	op.cancel()
	if op.tryComplete() || op.forceComplete() {
		t.Fatalf("cancelled operation completed")
	}
	if completions.Load() != 0 {
		t.Fatalf("callback ran after cancel")
	}
}

func TestPurgatoryCompletesImmediatelyWhenSatisfied(t *testing.T) {
	p := NewPurgatory()
	var bytesReadable atomic.Int64
	bytesReadable.Store(50)
	done := make(chan struct{})
	op := newDelayedFetch(time.Hour, 10, &bytesReadable, func() { close(done) })

	p.TryCompleteElseWatch(op, []string{"ns/a-partition-0"})
	select {
	case <-done:
	default:
		t.Fatalf("satisfied operation did not complete immediately")
	}
	if got := p.Watching("ns/a-partition-0"); got != 0 {
		t.Fatalf("satisfied operation registered as watcher: %d", got)
	}
}

func TestPurgatoryNotificationCompletesParkedFetch(t *testing.T) {
	p := NewPurgatory()
	var bytesReadable atomic.Int64
	done := make(chan struct{})
	op := newDelayedFetch(time.Hour, 10, &bytesReadable, func() { close(done) })

	keys := []string{"ns/a-partition-0", "ns/a-partition-1"}
	p.TryCompleteElseWatch(op, keys)
	if got := p.Watching(keys[0]); got != 1 {
		t.Fatalf("watchers for %s = %d, want 1", keys[0], got)
	}

	// Notification before the threshold is met leaves the fetch parked.
	if completed := p.CheckAndComplete(keys[0]); completed != 0 {
		t.Fatalf("completed %d before threshold", completed)
	}

	bytesReadable.Store(12)
	if completed := p.CheckAndComplete(keys[1]); completed != 1 {
		t.Fatalf("completed %d after threshold, want 1", completed)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("parked fetch never completed")
	}
	if got := p.CheckAndComplete(keys[0]); got != 0 {
		t.Fatalf("completed fetch completed again: %d", got)
	}
}

func TestPurgatoryDeadlineForcesCompletion(t *testing.T) {
	p := NewPurgatory()
	var bytesReadable atomic.Int64
	done := make(chan struct{})
	op := newDelayedFetch(20*time.Millisecond, 10, &bytesReadable, func() { close(done) })

	key := "ns/a-partition-0"
	p.TryCompleteElseWatch(op, []string{key})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deadline did not complete the fetch")
	}

	// The timer also prunes the watch list.
	deadline := time.Now().Add(time.Second)
	for p.Watching(key) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := p.Watching(key); got != 0 {
		t.Fatalf("watchers after deadline = %d, want 0", got)
	}
}
