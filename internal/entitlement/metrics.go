package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egiraffe_entitlement_decisions_total",
		Help: "Entitlement decisions by action, outcome and reason.",
	}, []string{"action", "outcome", "reason"})

	purchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egiraffe_purchases_total",
		Help: "Purchase attempts by result.",
	}, []string{"result"})
)
