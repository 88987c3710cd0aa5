/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for the engine and its inspection API. The driver package never
// imports this one: CycleDuration is observed by the CycleDone hook that
// engine.New installs, which runs on the cycle goroutine, and GraphCompiles
// by the compiler's OnCompile callback.
var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchbay_cycle_duration_seconds",
		Help:    "Wall-clock duration of one realtime cycle, start to publish.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	CycleOverruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchbay_cycle_overruns_total",
		Help: "Count of client process-callback deadline misses, by client name.",
	}, []string{"client"})

	ClientState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "patchbay_client_state",
		Help: "1 if the client is currently in the named state, 0 otherwise.",
	}, []string{"client", "state"})

	GraphCompiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchbay_graph_compiles_total",
		Help: "Count of graph compilations, by outcome.",
	}, []string{"outcome"})

	PortCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patchbay_ports_registered",
		Help: "Number of ports currently registered.",
	})

	ConnectionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patchbay_connections_active",
		Help: "Number of connections currently installed.",
	})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "patchbay_leader_election_status",
		Help: "1 if this instance currently holds engine leadership, 0 otherwise.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchbay_leader_election_changes_total",
		Help: "Count of leadership transitions, by instance and outcome.",
	}, []string{"instance_id", "transition"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patchbay_api_active_connections",
		Help: "Number of in-flight HTTP requests against the inspection API.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
