// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package metrics publishes prometheus counters and histograms for the
// engine's published session.Event stream plus greeting and
// decrypt-trial activity, grounded on the base repo's
// promauto.With(Registry)-per-subsystem convention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sage-x-project/mpenc/session"
)

const namespace = "mpenc"

// Registry is the dedicated collector registry for this package's
// metrics, rather than the global default registerer, so an embedding
// application can mount it independently of any metrics of its own.
var Registry = prometheus.NewRegistry()

var (
	// MessagesAccepted counts transcript.Message acceptance outcomes by
	// kind ("accepted", "fully_acked").
	MessagesAccepted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_accepted_total",
			Help:      "Total number of session.Event acceptances, by kind.",
		},
		[]string{"kind"},
	)

	// MessagesRejected counts NotAccepted/NotFullyAcked/NotDecrypted
	// session.Events, by kind.
	MessagesRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_rejected_total",
			Help:      "Total number of session.Event timeouts or failures, by kind.",
		},
		[]string{"kind"},
	)

	// GreetingsStarted counts greet.Greeter operations proposed locally
	// or observed from a peer, by opcode.
	GreetingsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "greeting",
			Name:      "started_total",
			Help:      "Total number of greeting operations started, by operation.",
		},
		[]string{"op"},
	)

	// GreetingsCompleted counts greetings that reached READY, by opcode.
	GreetingsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "greeting",
			Name:      "completed_total",
			Help:      "Total number of greeting operations that completed, by operation.",
		},
		[]string{"op"},
	)

	// FinOutcomes counts SessionBase.Fin resolutions, by final state.
	FinOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "fin_outcomes_total",
			Help:      "Total number of fin resolutions, by outcome state.",
		},
		[]string{"outcome"},
	)

	// DecryptTrialAttempts tracks how many candidate epochs a receiver
	// tried before a data message decrypted (or exhausted its candidates).
	DecryptTrialAttempts = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "msgsec",
			Name:      "decrypt_trial_attempts",
			Help:      "Number of candidate epochs tried per trial decryption, by result.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		},
		[]string{"result"}, // "hit", "miss"
	)

	// ActiveSubSessions tracks how many sub-sessions a hybrid.Session is
	// currently holding (current + previous, during rotation).
	ActiveSubSessions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hybrid",
			Name:      "active_sub_sessions",
			Help:      "Number of sub-sessions currently held by the hybrid session.",
		},
	)
)

// Handler returns an HTTP handler exposing this package's Registry in
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveSessionEvent records one session.Event against the counters
// above. Callers subscribe it via (*session.SessionBase).Subscribe.
func ObserveSessionEvent(e session.Event) {
	switch e.Kind {
	case session.MsgAccepted:
		MessagesAccepted.WithLabelValues("accepted").Inc()
	case session.MsgFullyAcked:
		MessagesAccepted.WithLabelValues("fully_acked").Inc()
	case session.NotAccepted:
		MessagesRejected.WithLabelValues("not_accepted").Inc()
	case session.NotFullyAcked:
		MessagesRejected.WithLabelValues("not_fully_acked").Inc()
	case session.NotDecrypted:
		MessagesRejected.WithLabelValues("not_decrypted").Inc()
	}
}

// ObserveGreetingStarted records that a greeting operation named op has
// been proposed or observed.
func ObserveGreetingStarted(op string) {
	GreetingsStarted.WithLabelValues(op).Inc()
}

// ObserveGreetingCompleted records that a greeting operation named op
// reached READY.
func ObserveGreetingCompleted(op string) {
	GreetingsCompleted.WithLabelValues(op).Inc()
}

// ObserveFinOutcome records a SessionBase.Fin resolution.
func ObserveFinOutcome(state session.State) {
	FinOutcomes.WithLabelValues(string(state)).Inc()
}

// ObserveDecryptTrial records how many epochs were tried before this
// trial decryption either hit or exhausted its candidates.
func ObserveDecryptTrial(attempts int, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DecryptTrialAttempts.WithLabelValues(result).Observe(float64(attempts))
}
