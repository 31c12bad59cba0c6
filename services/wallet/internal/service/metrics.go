package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements the metrics interfaces declared by the wallet
// packages. A nil *Metrics records nothing.
type Metrics struct {
	LedgerOps        *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	PriceLookups     *prometheus.CounterVec
	Compensations    *prometheus.CounterVec
	Investments      *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	SettlementJobs   *prometheus.CounterVec
	SchedulerRuns    *prometheus.CounterVec
	SchedulerLatency *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_ledger_operations_total",
				Help: "Total ledger balance operations.",
			},
			[]string{"op", "status"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_transaction_transitions_total",
				Help: "Total transaction status transitions.",
			},
			[]string{"type", "status"},
		),
		PriceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_price_lookups_total",
				Help: "Total price lookups by serving source.",
			},
			[]string{"source"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_compensations_total",
				Help: "Total compensating actions run after a failed step.",
			},
			[]string{"flow", "ok"},
		),
		Investments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_investment_events_total",
				Help: "Total investment lifecycle events.",
			},
			[]string{"event"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_notifications_total",
				Help: "Total notifications published.",
			},
			[]string{"event_type", "status"},
		),
		SettlementJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_settlement_jobs_total",
				Help: "Total settlement jobs processed.",
			},
			[]string{"kind", "status"},
		),
		SchedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_scheduler_runs_total",
				Help: "Total scheduled job runs.",
			},
			[]string{"job", "status"},
		),
		SchedulerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_scheduler_run_duration_seconds",
				Help:    "Scheduled job run duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.LedgerOps,
		m.Transitions,
		m.PriceLookups,
		m.Compensations,
		m.Investments,
		m.Notifications,
		m.SettlementJobs,
		m.SchedulerRuns,
		m.SchedulerLatency,
	)
	return m
}

func (m *Metrics) ObserveLedgerOp(op, status string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, status).Inc()
}

func (m *Metrics) ObserveTransition(txType, status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ObservePriceLookup(source string) {
	if m == nil {
		return
	}
	m.PriceLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveCompensation(flow string, ok bool) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(flow, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) ObserveInvestment(event string) {
	if m == nil {
		return
	}
	m.Investments.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveNotification(eventType, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) ObserveJob(kind, status string) {
	if m == nil {
		return
	}
	m.SettlementJobs.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveSchedulerRun(job, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(job, status).Inc()
	m.SchedulerLatency.WithLabelValues(job).Observe(latency.Seconds())
}
