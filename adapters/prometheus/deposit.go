package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"
)

// depositMetrics implements deposit.DepositMetrics using Prometheus.
type depositMetrics struct {
	reserved         *prometheus.CounterVec
	filled           *prometheus.CounterVec
	incinerated      *prometheus.CounterVec
	active           *prometheus.GaugeVec
	withdrawals      *prometheus.CounterVec
	txnDuration      *prometheus.HistogramVec
	txnTotal         *prometheus.CounterVec
	txnResponseRatio *prometheus.HistogramVec
	polls            *prometheus.CounterVec
}

func NewDepositMetrics(reg prometheus.Registerer) deposit.DepositMetrics {
	m := &depositMetrics{
		reserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_drawers_reserved_total",
			Help:      "Total number of drawers reserved",
		}, []string{"box"}),

		filled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_drawers_filled_total",
			Help:      "Total number of drawers filled by finished tasks",
		}, []string{"box", "success"}),

		incinerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_drawers_incinerated_total",
			Help:      "Total number of drawers removed before or after withdrawal",
		}, []string{"box"}),

		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deposit_drawers_active",
			Help:      "Drawers currently held",
		}, []string{"box"}),

		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_withdrawals_total",
			Help:      "Total number of withdrawals served by outcome",
		}, []string{"box", "code"}),

		txnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deposit_transaction_duration_seconds",
			Help:      "Withdrawal collection time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"group"}),

		txnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_transactions_total",
			Help:      "Total number of withdrawal collections",
		}, []string{"group", "timed_out"}),

		txnResponseRatio: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deposit_transaction_response_ratio",
			Help:      "Share of nodes that responded per collection",
			Buckets:   []float64{.1, .25, .5, .75, .9, .99, 1},
		}, []string{"group"}),

		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_node_polls_total",
			Help:      "Total number of deposit exchanges with nodes",
		}, []string{"group"}),
	}

	reg.MustRegister(
		m.reserved,
		m.filled,
		m.incinerated,
		m.active,
		m.withdrawals,
		m.txnDuration,
		m.txnTotal,
		m.txnResponseRatio,
		m.polls,
	)
	return m
}

func (m *depositMetrics) DrawerReserved(box string) {
	m.reserved.WithLabelValues(box).Inc()
}

func (m *depositMetrics) DrawerFilled(box string, success bool) {
	m.filled.WithLabelValues(box, boolToStr(success)).Inc()
}

func (m *depositMetrics) DrawersIncinerated(box string, count int) {
	m.incinerated.WithLabelValues(box).Add(float64(count))
}

func (m *depositMetrics) DrawersActive(box string, count int) {
	m.active.WithLabelValues(box).Set(float64(count))
}

func (m *depositMetrics) WithdrawalServed(box string, code string) {
	m.withdrawals.WithLabelValues(box, code).Inc()
}

func (m *depositMetrics) TransactionDuration(group string) metrics.Timer {
	return newTimer(m.txnDuration.WithLabelValues(group))
}

func (m *depositMetrics) TransactionCompleted(group string, responded, nodes int, timedOut bool) {
	m.txnTotal.WithLabelValues(group, boolToStr(timedOut)).Inc()
	if nodes > 0 {
		m.txnResponseRatio.WithLabelValues(group).Observe(float64(responded) / float64(nodes))
	}
}

func (m *depositMetrics) NodePolled(group string) {
	m.polls.WithLabelValues(group).Inc()
}

var _ deposit.DepositMetrics = (*depositMetrics)(nil)
