package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceVault = "btc_vault"

var (
	// Operations counts operations reaching a status, by flow type.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceVault,
		Name:      "operations_total",
		Help:      "number of operations reaching a status",
	}, []string{"type", "status"})

	// RunningOperations is the number of operations with a live action pool.
	RunningOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceVault,
		Name:      "running_operations",
		Help:      "number of operations executing their action pool",
	})

	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceVault,
		Name:      "action_failures_total",
		Help:      "number of actions ending in error or canceled",
	}, []string{"action", "status"})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceVault,
		Name:      "broadcasts_total",
		Help:      "number of payout transactions broadcast",
	})

	IdempotentSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespaceVault,
		Name:      "idempotent_skips_total",
		Help:      "number of payouts found already on chain",
	})

	SendQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceVault,
		Name:      "send_queue_depth",
		Help:      "payouts waiting in the send queue",
	})

	PayoutFee = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespaceVault,
		Name:      "payout_fee_satoshi",
		Help:      "mining fee of broadcast payouts",
		Buckets:   prometheus.ExponentialBuckets(500, 2, 14),
	})
)
