package geo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoblock_geo_lookups_total",
			Help: "Geolocation lookups per provider and outcome",
		},
		[]string{"provider", "result"},
	)

	lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoblock_geo_lookup_duration_seconds",
			Help:    "Time to resolve an IP through the provider chain",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
