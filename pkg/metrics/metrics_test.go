package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMessageSent("MSG")
		m.RecordMessageReceived("MSG")
		m.RecordRetransmission()
		m.RecordConfirmTimeout()
		m.RecordDeliveryFailure()
		m.RecordDuplicate()
		m.RecordInvalid()
		m.RecordStateTransition("open")
		m.RecordSendDuration("udp", 0.1)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.RecordMessageSent("AUTH")
	m.RecordMessageSent("AUTH")
	m.RecordMessageReceived("REPLY")
	m.RecordRetransmission()
	m.RecordDuplicate()
	m.RecordStateTransition("open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("AUTH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("REPLY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retransmissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicatesSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("open")))
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := New(), New()
	a.RecordInvalid()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.invalidMessages))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.invalidMessages))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordConfirmTimeout()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ipk24chat_confirm_timeouts_total 1"))
}
