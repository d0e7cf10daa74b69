package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 引擎与通知相关指标，按账户或阶段划分。

var (
	// Sequencer
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "sequencer",
		Name:      "ticks_total",
		Help:      "Total sequencer ticks",
	})

	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sniper",
		Subsystem: "sequencer",
		Name:      "tick_duration_seconds",
		Help:      "Sequencer tick duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	SettledAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniper",
		Subsystem: "sequencer",
		Name:      "settled_accounts",
		Help:      "Accounts holding a purchased asset",
	})

	// Scheduler
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Total resolve-then-execute attempts",
	}, []string{"account"})

	LookupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "scheduler",
		Name:      "lookup_errors_total",
		Help:      "Total target lookup failures",
	}, []string{"account"})

	ExecutionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "scheduler",
		Name:      "execution_errors_total",
		Help:      "Total purchase execution failures",
	}, []string{"account", "stage"})

	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "scheduler",
		Name:      "purchases_total",
		Help:      "Total confirmed purchases",
	}, []string{"account"})

	// Supervisor
	FaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "supervisor",
		Name:      "faults_total",
		Help:      "Total unhandled faults recovered from a tick",
	})

	// Notifier
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "notifier",
		Name:      "messages_sent_total",
		Help:      "Total notification chunks delivered",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "notifier",
		Name:      "failures_total",
		Help:      "Total notification chunks that failed to deliver",
	})
)
