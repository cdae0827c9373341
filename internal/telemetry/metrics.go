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

const namespace = "grooveboat"

// Session metrics
var (
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "state",
		Help:      "Current buoy session state (0=disconnected, 1=connecting, 2=connected, 3=authenticated).",
	})

	SessionConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "connect_attempts_total",
		Help:      "Connection attempts to a buoy by outcome.",
	}, []string{"outcome"})

	SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnects_total",
		Help:      "Automatic reconnects after an unexpected disconnect.",
	})

	SessionPendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "pending_calls",
		Help:      "Calls waiting for a correlated response.",
	})
)

// RPC metrics
var (
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Outbound RPC calls by name and outcome.",
	}, []string{"call", "outcome"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Round trip time of outbound RPC calls.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"call"})

	RPCPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "pushes_total",
		Help:      "Inbound server pushes by name.",
	}, []string{"push"})

	RPCDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "decode_errors_total",
		Help:      "Pushes dropped because their params could not be decoded.",
	}, []string{"push"})
)

// Playback metrics
var (
	JukeboxCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jukebox",
		Name:      "clock_corrections_total",
		Help:      "Pause/seek/resume corrections issued by the clock-sync ticker.",
	})

	JukeboxDrift = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jukebox",
		Name:      "drift_seconds",
		Help:      "Absolute difference between expected and actual playhead on each sync tick.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 5, 10},
	})

	JukeboxLoadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jukebox",
		Name:      "load_outcomes_total",
		Help:      "Track load attempts by outcome (started, timeout, superseded, error).",
	}, []string{"outcome"})

	JukeboxOnDeckAdopted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jukebox",
		Name:      "on_deck_adopted_total",
		Help:      "Play requests served by a pre-loaded on-deck player.",
	})
)

// Status surface metrics
var (
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "active_requests",
		Help:      "In-flight requests on the local status server.",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "request_duration_seconds",
		Help:      "Local status server request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "requests_total",
		Help:      "Local status server requests.",
	}, []string{"method", "endpoint", "status"})
)

// Local storage and mirror metrics
var (
	DocStoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "docstore",
		Name:      "op_duration_seconds",
		Help:      "Document store operation latency.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend", "op"})

	DocStoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "docstore",
		Name:      "errors_total",
		Help:      "Document store operations that failed for a reason other than a missing doc.",
	}, []string{"backend", "op"})

	EventMirrorPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "mirrored_total",
		Help:      "Events mirrored to NATS by outcome.",
	}, []string{"outcome"})

	NotificationsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "raised_total",
		Help:      "User-visible notifications raised, by level.",
	}, []string{"level"})

	MediaFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "media",
		Name:      "fetch_duration_seconds",
		Help:      "Track byte fetch latency by source.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"source", "outcome"})

	TrackCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "track_lookups_total",
		Help:      "Track cache lookups by tier that answered, or miss.",
	}, []string{"result"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
