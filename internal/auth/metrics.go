// metrics.go -- Prometheus counters for authentication and gating.
package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egiraffe_auth_gate_decisions_total",
		Help: "Authorization gate decisions by required level and outcome.",
	}, []string{"required", "outcome"})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egiraffe_auth_login_attempts_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
)
