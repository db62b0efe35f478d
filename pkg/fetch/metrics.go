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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kafbridge_fetch_requests_total",
		Help: "Total fetch requests handled.",
	})

	fetchPartitionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kafbridge_fetch_partition_errors_total",
		Help: "Partition-level fetch outcomes by error code.",
	}, []string{"code"})

	fetchBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kafbridge_fetch_bytes_read_total",
		Help: "Bytes read from the ledger store by fetch pipelines.",
	})

	fetchReadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kafbridge_fetch_read_seconds",
		Help:    "Latency of cursor reads against the ledger store.",
		Buckets: prometheus.DefBuckets,
	})

	fetchDecodeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kafbridge_fetch_decode_seconds",
		Help:    "Latency of decoding ledger entries into record sets.",
		Buckets: prometheus.DefBuckets,
	})

	fetchPrepareFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kafbridge_fetch_prepare_failures_total",
		Help: "Fetches that failed before reaching a cursor read.",
	})

	purgatoryPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kafbridge_fetch_purgatory_pending",
		Help: "Delayed fetches currently parked in the purgatory.",
	})
)

func init() {
	prometheus.MustRegister(
		fetchRequestsTotal,
		fetchPartitionErrors,
		fetchBytesRead,
		fetchReadLatency,
		fetchDecodeLatency,
		fetchPrepareFailures,
		purgatoryPending,
	)
}

func observePartitionError(code int16) {
	fetchPartitionErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
}
