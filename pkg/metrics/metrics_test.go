/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("records", func(t *testing.T) {
		reg := prometheus.NewRegistry()

		m, err := New(reg)
		require.NoError(t, err)

		m.ExchangeTransition("native", "complete")
		m.ExchangeTransition("native", "complete")
		m.ExchangeTransition("entra", "invalid")
		m.VerificationDone(true, 20*time.Millisecond)
		m.VerificationDone(false, 5*time.Millisecond)
		m.CallbackDone(false)
		m.RecordsSwept(3)
		m.RecordsSwept(0)

		require.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("native", "complete")))
		require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("entra", "invalid")))
		require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("false")))
		require.Equal(t, 1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("false")))
		require.Equal(t, 3.0, testutil.ToFloat64(m.swept))
		require.Equal(t, 1, testutil.CollectAndCount(m.latency))
	})

	t.Run("duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()

		_, err := New(reg)
		require.NoError(t, err)

		_, err = New(reg)
		require.Error(t, err)
	})

	t.Run("nil metrics", func(t *testing.T) {
		var m *Metrics

		require.NotPanics(t, func() {
			m.ExchangeTransition("native", "active")
			m.VerificationDone(true, time.Second)
			m.CallbackDone(true)
			m.RecordsSwept(1)
		})
	})
}
