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
	"context"
	"sync"
	"sync/atomic"

	"github.com/streamgate/kafbridge/pkg/protocol"
)

// Result is one completed fetch: the assembled response plus a release hook
// the consumer must invoke once the record bytes have been handed to the
// transport. Release is idempotent.
type Result struct {
	Response *protocol.FetchResponse
	Release  func()
}

// fetchContext owns one request's mutable aggregation state. It is built
// fresh per request and referenced by every partition pipeline; the handoff
// and finished flags resolve all races to complete it exactly once.
type fetchContext struct {
	ctx     context.Context
	header  protocol.RequestHeader
	request *protocol.FetchRequest
	order   []protocol.TopicPartition

	mu            sync.Mutex
	results       map[protocol.TopicPartition]protocol.FetchPartitionResponse
	decodeResults []*DecodeResult

	// handoff guards the single claim that hands the request to the
	// purgatory once every partition has recorded a result.
	handoff atomic.Bool
	// finished guards response emission and buffer release.
	finished atomic.Bool
	released atomic.Bool

	bytesReadable atomic.Int64
	limitBytes    atomic.Int64

	out  chan *Result
	done chan struct{}
}

func newFetchContext(ctx context.Context, header protocol.RequestHeader, req *protocol.FetchRequest) *fetchContext {
	order := req.Partitions()
	fc := &fetchContext{
		ctx:     ctx,
		header:  header,
		request: req,
		order:   order,
		results: make(map[protocol.TopicPartition]protocol.FetchPartitionResponse, len(order)),
		out:     make(chan *Result, 1),
		done:    make(chan struct{}),
	}
	fc.limitBytes.Store(int64(req.MaxBytes))
	return fc
}

// recordResult stores a partition outcome and returns the number of recorded
// partitions. The first write per partition wins: the legacy and ledger paths
// are mutually exclusive per partition by construction, so a duplicate can
// only be a late lower-priority error that must not clobber the earlier
// outcome.
func (fc *fetchContext) recordResult(tp protocol.TopicPartition, resp protocol.FetchPartitionResponse) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if _, exists := fc.results[tp]; !exists {
		fc.results[tp] = resp
	}
	return len(fc.results)
}

// anyErrorRecorded reports whether any partition resolved with an error code.
// Such requests complete without parking: waiting cannot turn an error into
// more data.
func (fc *fetchContext) anyErrorRecorded() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, resp := range fc.results {
		if resp.ErrorCode != protocol.NONE {
			return true
		}
	}
	return false
}

// addDecodeResult queues a decode buffer for release after completion. A
// buffer arriving after the context was already released (cancellation) is
// released immediately so it cannot leak.
func (fc *fetchContext) addDecodeResult(dr *DecodeResult) {
	fc.mu.Lock()
	if fc.released.Load() {
		fc.mu.Unlock()
		dr.Release()
		return
	}
	fc.decodeResults = append(fc.decodeResults, dr)
	fc.mu.Unlock()
}

// releaseBuffers releases every queued decode buffer exactly once.
func (fc *fetchContext) releaseBuffers() {
	if !fc.released.CompareAndSwap(false, true) {
		return
	}
	fc.mu.Lock()
	queued := fc.decodeResults
	fc.decodeResults = nil
	fc.mu.Unlock()
	for _, dr := range queued {
		dr.Release()
	}
}

// finish resolves the request exactly once. On cancellation the queued
// buffers are released and no response is emitted; otherwise the response is
// assembled in request order and handed off, leaving buffer release to the
// consumer's Release call.
func (fc *fetchContext) finish() {
	if !fc.finished.CompareAndSwap(false, true) {
		return
	}
	defer close(fc.done)
	if fc.ctx.Err() != nil {
		fc.releaseBuffers()
		close(fc.out)
		return
	}
	fc.out <- &Result{Response: fc.assemble(), Release: fc.releaseBuffers}
	close(fc.out)
}

// assemble re-walks the original request's partition order, substituting a
// timeout error for any partition that never recorded a result.
func (fc *fetchContext) assemble() *protocol.FetchResponse {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	resp := &protocol.FetchResponse{
		CorrelationID: fc.header.CorrelationID,
		SessionID:     fc.request.SessionID,
		Topics:        make([]protocol.FetchTopicResponse, 0, len(fc.request.Topics)),
	}
	for _, topic := range fc.request.Topics {
		topicResp := protocol.FetchTopicResponse{
			Name:       topic.Name,
			Partitions: make([]protocol.FetchPartitionResponse, 0, len(topic.Partitions)),
		}
		for _, part := range topic.Partitions {
			tp := protocol.TopicPartition{Topic: topic.Name, Partition: part.Partition}
			partResp, ok := fc.results[tp]
			if !ok {
				partResp = protocol.NewErrorPartitionResponse(part.Partition, protocol.REQUEST_TIMED_OUT)
				observePartitionError(protocol.REQUEST_TIMED_OUT)
			}
			topicResp.Partitions = append(topicResp.Partitions, partResp)
		}
		resp.Topics = append(resp.Topics, topicResp)
	}
	return resp
}
