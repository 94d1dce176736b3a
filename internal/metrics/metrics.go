// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcp_oauth"

var (
	CodesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_codes_issued_total",
		Help:      "Authorization codes issued by the authorization endpoint.",
	})

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Token pairs issued, by grant type.",
	}, []string{"grant_type"})

	OAuthErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "OAuth error responses, by endpoint and error code.",
	}, []string{"endpoint", "error"})

	BearerDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bearer_gate_decisions_total",
		Help:      "Bearer gate outcomes on protected routes.",
	}, []string{"outcome"})

	SweptRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_records_total",
		Help:      "Expired records removed by the sweeper, by kind.",
	}, []string{"kind"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of sweep passes.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		CodesIssued, TokensIssued, OAuthErrors, BearerDecisions, SweptRecords, SweepDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
