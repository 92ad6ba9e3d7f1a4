package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TwoFactorVerifications records 2FA verification attempts by method (totp|backup_code) and result.
	TwoFactorVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_two_factor_verifications_total",
			Help: "Total number of two-factor verification attempts",
		},
		[]string{"method", "result"},
	)

	// ActiveSessions tracks sessions that are neither ended nor expired.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SuspiciousLogins counts detector verdicts by risk level.
	SuspiciousLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_suspicious_logins_total",
			Help: "Total number of suspicious login detections",
		},
		[]string{"risk_level"},
	)

	// PolicyRevocations counts sessions ended by the policy engine, by reason.
	PolicyRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_policy_revocations_total",
			Help: "Total number of sessions revoked by policy enforcement",
		},
		[]string{"reason"},
	)

	// ProfileSyncs counts profile sync attempts by direction and result.
	ProfileSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_profile_syncs_total",
			Help: "Total number of profile synchronization attempts",
		},
		[]string{"direction", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
