package validate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoblock_validations_total",
			Help: "Validation pipeline runs per hook and outcome",
		},
		[]string{"hook", "result"},
	)

	blockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoblock_blocked_total",
			Help: "Blocked requests per hook and country code",
		},
		[]string{"hook", "code"},
	)
)
