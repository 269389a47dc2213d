// Package metrics содержит счётчики Prometheus для операций оркестратора.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations считает завершённые операции оркестратора по имени и исходу.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carlend_operations_total",
		Help: "Completed orchestrator operations by name and outcome.",
	}, []string{"operation", "outcome"})

	// ObligationsOpened считает созданные платёжные обязательства.
	ObligationsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carlend_obligations_opened_total",
		Help: "Pending payment obligations recorded after debit retries were exhausted.",
	})

	// ObligationsSettled считает обязательства, исполненные воркером сверки.
	ObligationsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carlend_obligations_settled_total",
		Help: "Pending payment obligations settled by the reconciliation worker.",
	})
)

// Исходы операций для метки outcome.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomePending  = "pending"
)
