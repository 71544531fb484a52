// Package metrics exposes the Prometheus collectors of the ledger node, the
// escrow program and the submission gateway. Collectors are registered with
// the default registry on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nftescrow"

// EscrowMetrics counts escrow program calls.
type EscrowMetrics struct {
	calls *prometheus.CounterVec
	sales prometheus.Counter
}

// LedgerMetrics tracks block production.
type LedgerMetrics struct {
	blocks   prometheus.Counter
	groups   *prometheus.CounterVec
	mempool  prometheus.Gauge
	blockTxs prometheus.Histogram
	height   prometheus.Gauge
}

// GatewayMetrics tracks client-side submissions.
type GatewayMetrics struct {
	submissions *prometheus.CounterVec
	retries     prometheus.Counter
	latency     prometheus.Histogram
}

// RPCMetrics tracks JSON-RPC server traffic.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	throttles prometheus.Counter
}

var (
	escrowOnce sync.Once
	escrowReg  *EscrowMetrics

	ledgerOnce sync.Once
	ledgerReg  *LedgerMetrics

	gatewayOnce sync.Once
	gatewayReg  *GatewayMetrics

	rpcOnce sync.Once
	rpcReg  *RPCMetrics
)

// Escrow returns the lazily-initialised escrow program metrics.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowReg = &EscrowMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "escrow",
				Name:      "calls_total",
				Help:      "Escrow program calls segmented by action and result.",
			}, []string{"action", "result"}),
			sales: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "escrow",
				Name:      "sales_settled_total",
				Help:      "validateBuy calls approved by the escrow program.",
			}),
		}
		prometheus.MustRegister(escrowReg.calls, escrowReg.sales)
	})
	return escrowReg
}

// ObserveCall records one program evaluation.
func (m *EscrowMetrics) ObserveCall(action string, err error) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	result := "approved"
	if err != nil {
		result = "rejected"
	}
	m.calls.WithLabelValues(action, result).Inc()
}

// ObserveSale records a settled purchase.
func (m *EscrowMetrics) ObserveSale() {
	if m == nil {
		return
	}
	m.sales.Inc()
}

// Ledger returns the lazily-initialised block production metrics.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerReg = &LedgerMetrics{
			blocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "blocks_total",
				Help:      "Blocks committed by this node.",
			}),
			groups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "groups_total",
				Help:      "Transaction groups executed segmented by outcome.",
			}, []string{"outcome"}),
			mempool: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "mempool_groups",
				Help:      "Groups waiting in the mempool.",
			}),
			blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "block_transactions",
				Help:      "Confirmed transactions per block.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Height of the chain tip.",
			}),
		}
		prometheus.MustRegister(ledgerReg.blocks, ledgerReg.groups, ledgerReg.mempool, ledgerReg.blockTxs, ledgerReg.height)
	})
	return ledgerReg
}

// ObserveGroup records the outcome of one executed group.
func (m *LedgerMetrics) ObserveGroup(committed bool) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !committed {
		outcome = "rejected"
	}
	m.groups.WithLabelValues(outcome).Inc()
}

// ObserveBlock records a committed block.
func (m *LedgerMetrics) ObserveBlock(height int64, txs int) {
	if m == nil {
		return
	}
	m.blocks.Inc()
	m.blockTxs.Observe(float64(txs))
	m.height.Set(float64(height))
}

// SetMempoolSize reports the number of pending groups.
func (m *LedgerMetrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.mempool.Set(float64(n))
}

// Gateway returns the lazily-initialised submission gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayReg = &GatewayMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "submissions_total",
				Help:      "Group submissions segmented by final outcome.",
			}, []string{"outcome"}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Transient submission failures that were retried.",
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "confirmation_seconds",
				Help:      "Time from first send until a terminal status.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(gatewayReg.submissions, gatewayReg.retries, gatewayReg.latency)
	})
	return gatewayReg
}

// ObserveSubmission records a finished submission.
func (m *GatewayMetrics) ObserveSubmission(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// IncRetry records a retried transient failure.
func (m *GatewayMetrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RPC returns the lazily-initialised JSON-RPC server metrics.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcReg = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			throttles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(rpcReg.requests, rpcReg.throttles)
	})
	return rpcReg
}

// ObserveRequest records a handled request.
func (m *RPCMetrics) ObserveRequest(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

// IncThrottle records a request dropped by the rate limiter.
func (m *RPCMetrics) IncThrottle() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}
