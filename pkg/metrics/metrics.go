/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes exchange and verification metrics to prometheus.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "exchanger"

// Metrics groups the collectors of the service.
type Metrics struct {
	transitions   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	latency       prometheus.Histogram
	callbacks     *prometheus.CounterVec
	swept         prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_transitions_total",
			Help:      "Exchange state transitions by workflow type and target state.",
		}, []string{"workflow_type", "state"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presentation_verifications_total",
			Help:      "Presentation verifications by outcome.",
		}, []string{"verified"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "presentation_verification_seconds",
			Help:      "Duration of presentation verification.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_deliveries_total",
			Help:      "Relying party callback deliveries by outcome.",
		}, []string{"delivered"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_records_swept_total",
			Help:      "Exchange records deleted after their retention period.",
		}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.verifications, m.latency, m.callbacks, m.swept} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ExchangeTransition counts an exchange entering state.
func (m *Metrics) ExchangeTransition(workflowType, state string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(workflowType, state).Inc()
}

// VerificationDone records a verification outcome and its duration.
func (m *Metrics) VerificationDone(verified bool, d time.Duration) {
	if m == nil {
		return
	}

	m.verifications.WithLabelValues(strconv.FormatBool(verified)).Inc()
	m.latency.Observe(d.Seconds())
}

// CallbackDone records a callback delivery outcome.
func (m *Metrics) CallbackDone(delivered bool) {
	if m == nil {
		return
	}

	m.callbacks.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

// RecordsSwept counts deleted exchange records.
func (m *Metrics) RecordsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.swept.Add(float64(n))
}
