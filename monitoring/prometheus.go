package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/mmn-aa/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TxRejectedReason string

var (
	TxUnauthorizedCaller  TxRejectedReason = "unauthorized_caller"
	TxInvalidType         TxRejectedReason = "invalid_type"
	TxInvalidSignature    TxRejectedReason = "invalid_signature"
	TxInvalidNonce        TxRejectedReason = "invalid_nonce"
	TxInsufficientBalance TxRejectedReason = "insufficient_balance"
	TxPaymentFailed       TxRejectedReason = "payment_failed"
	TxExecutionFailed     TxRejectedReason = "execution_failed"
	TxDuplicated          TxRejectedReason = "duplicated"
	TxAbandoned           TxRejectedReason = "abandoned"
	TxRateLimited         TxRejectedReason = "rate_limited"
	TxRejectedUnknown     TxRejectedReason = "other"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	phaseCount        *prometheus.CounterVec
	rejectedTxCount   *prometheus.CounterVec
	feePaid           prometheus.Counter
	inflightTx        prometheus.Gauge
	processingTime    prometheus.Histogram
	ingressTxCount    prometheus.Counter
	panicCount        prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aa_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		phaseCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aa_phase_total",
				Help: "The total number of transactions that reached each phase",
			},
			[]string{"phase"},
		),
		rejectedTxCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aa_rejected_tx_total",
				Help: "The total number of transactions that ended without execution",
			},
			[]string{"reason"},
		),
		feePaid: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aa_fee_paid_total",
				Help: "Sum of fees paid to the bootloader, in native units",
			},
		),
		inflightTx: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aa_inflight_tx",
				Help: "Number of transactions currently between validation and a terminal phase",
			},
		),
		processingTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "aa_tx_processing_seconds",
				Help: "Latency from receiving a transaction until its terminal phase",
			},
		),
		ingressTxCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aa_ingress_tx_total",
				Help: "The total number of transactions received from clients",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aa_recovered_panic_total",
				Help: "The total number of panics recovered in background goroutines",
			},
		),
	}
}

var (
	nodeMetrics *nodePromMetrics
	initOnce    sync.Once
)

// InitMetrics registers the node metrics with the default registry. Calls
// before it are dropped.
func InitMetrics() {
	initOnce.Do(func() {
		nodeMetrics = newNodePromMetrics()
		nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	logx.Info("MONITORING", "Registering prometheus metrics")
	return promhttp.Handler()
}

func RecordPhase(phase string) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.phaseCount.With(prometheus.Labels{"phase": phase}).Inc()
}

func RecordRejectedTx(reason TxRejectedReason) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.rejectedTxCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

// AddFeePaid adds a fee, given as a float of native units
func AddFeePaid(fee float64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.feePaid.Add(fee)
}

func SetInflightTx(count int64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.inflightTx.Set(float64(count))
}

func RecordProcessingTime(duration time.Duration) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.processingTime.Observe(duration.Seconds())
}

func IncreaseIngressTxCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.ingressTxCount.Inc()
}

func IncreasePanicCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.panicCount.Inc()
}
