package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.RelaysForwarded.Inc()
	m.RelaysForwarded.Inc()
	m.AuthRejections.WithLabelValues(ReasonReplay).Inc()
	m.AuthRejections.WithLabelValues(ReasonSignature).Inc()
	m.DebitsFailed.Inc()
	m.CreditedMicro.Add(1_000_000)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RelaysForwarded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthRejections.WithLabelValues(ReasonReplay)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebitsFailed))
	assert.Equal(t, float64(1_000_000), testutil.ToFloat64(m.CreditedMicro))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.PaymentChallenges.Inc()
	m.RegisterReplayCacheSize(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gateway_payment_challenges_total 1")
	assert.Contains(t, body, "gateway_replay_cache_entries 3")
}
