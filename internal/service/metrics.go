package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatepassTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatepass_transitions_total",
			Help: "Gatepass status transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	gatepassCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatepass_created_total",
			Help: "Gatepasses created",
		},
	)

	gatepassNumberRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatepass_number_retries_total",
			Help: "Gatepass creations retried after a number collision",
		},
	)

	impersonationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatepass_impersonations_total",
			Help: "Impersonation start and stop attempts by outcome",
		},
		[]string{"event", "outcome"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
