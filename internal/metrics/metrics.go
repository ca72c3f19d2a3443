// Package metrics declares the broker's prometheus instruments, grounded on the upstream reference's worker/internal/metrics/prometheus.go: promauto-backed
// package vars, no registry plumbing required of callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueLength tracks the total message count per queue.
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbroker_queue_length",
			Help: "Total number of messages resident in a queue",
		},
		[]string{"queue"},
	)

	// QueueRAMMsgCount tracks alpha-form (q1+q4) message count per queue.
	QueueRAMMsgCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbroker_queue_ram_msg_count",
			Help: "Messages currently held with bodies in RAM",
		},
		[]string{"queue"},
	)

	// QueueDeltaCount tracks the wholly-on-disk region size per queue.
	QueueDeltaCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbroker_queue_delta_count",
			Help: "Messages held entirely on disk (neither body nor index in RAM)",
		},
		[]string{"queue"},
	)

	// CreditBlockedPeers counts peers a queue actor is currently blocked sending to under the credit-flow ledger.
	CreditBlockedPeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbroker_credit_blocked_peers",
			Help: "Number of peers this node is blocked sending to (zero link credit)",
		},
		[]string{"queue"},
	)

	// HandleCacheOpenCount tracks file handles currently open (not soft-closed) across a handle-cache client.
	HandleCacheOpenCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qbroker_handlecache_open_count",
			Help: "File handles currently open (not soft-closed)",
		},
	)

	// DispatchDuration measures time spent in one queue-actor mailbox message handler, labeled by the operation name.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbroker_dispatch_duration_seconds",
			Help:    "Time spent handling one queue actor mailbox message",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op"},
	)

	// MessagesPublishedTotal and MessagesDeliveredTotal count throughput per queue, the broker-domain analogue of the upstream reference's
	// ExecutionsTotal counter.
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbroker_messages_published_total",
			Help: "Total messages published to a queue",
		},
		[]string{"queue"},
	)
	MessagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbroker_messages_delivered_total",
			Help: "Total messages delivered to consumers",
		},
		[]string{"queue"},
	)

	// DelegateCallFailures counts cross-node delegate calls whose individual target result was an error.
	DelegateCallFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qbroker_delegate_call_failures_total",
			Help: "Total individual delegate call failures across all targets",
		},
	)

	// MemoryUsageRatio mirrors gopsutil's used-memory ratio (used / total) fed into the duration-target controller.
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qbroker_memory_usage_ratio",
			Help: "Observed system memory usage as a fraction of total memory",
		},
	)
)
