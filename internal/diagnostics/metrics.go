// Package diagnostics exposes the /healthz and /metrics HTTP surface
// from SPEC_FULL §4.8: non-core observability, carried regardless of
// spec.md's Non-goals per the ambient-stack rule.
//
// Metrics grounded on the pack's prometheus/client_golang usage
// (ManuGH-xg2g's internal/metrics): promauto-registered vectors keyed
// by low-cardinality labels only (effect/group, never viewer or
// connection id).
package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The vectors below are registered with the default registry and served
// on /metrics. No package in this module updates them, so they carry no
// samples.
var (
	// ConnectionsOpen tracks currently open connections by side
	// (receiver/sender) and role (client/server).
	ConnectionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdlink_connections_open",
		Help: "Current number of open connections, by side and role.",
	}, []string{"side", "role"})

	// RequestsDispatchedTotal counts effect requests routed to a
	// handler, by effect and outcome (success/failure/unavailable).
	RequestsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdlink_requests_dispatched_total",
		Help: "Total number of effect requests dispatched, by effect and outcome.",
	}, []string{"effect", "outcome"})

	// TimedEffectsActive tracks currently RUNNING timed effects by
	// group.
	TimedEffectsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdlink_timed_effects_active",
		Help: "Current number of RUNNING timed effects, by group.",
	}, []string{"group"})

	// TimedEffectsQueued tracks currently QUEUED timed effects by
	// group.
	TimedEffectsQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowdlink_timed_effects_queued",
		Help: "Current number of QUEUED timed effects, by group.",
	}, []string{"group"})

	// RetriesTotal counts RETRY responses observed by the tracker, by
	// effect.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdlink_retries_total",
		Help: "Total number of RETRY responses observed, by effect.",
	}, []string{"effect"})
)
