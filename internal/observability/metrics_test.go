package observability

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateDecisionsTotal(t *testing.T) {
	counter := GateDecisionsTotal.WithLabelValues("app-page", "redirect_login")
	before := testutil.ToFloat64(counter)

	counter.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSessionsTerminatedTotal_ByReason(t *testing.T) {
	logout := SessionsTerminatedTotal.WithLabelValues("logout")
	admin := SessionsTerminatedTotal.WithLabelValues("admin")
	beforeLogout := testutil.ToFloat64(logout)
	beforeAdmin := testutil.ToFloat64(admin)

	logout.Add(2)

	assert.Equal(t, beforeLogout+2, testutil.ToFloat64(logout))
	assert.Equal(t, beforeAdmin, testutil.ToFloat64(admin))
}

func TestWebSocketConnectionsActive(t *testing.T) {
	before := testutil.ToFloat64(WebSocketConnectionsActive)

	WebSocketConnectionsActive.Inc()
	WebSocketConnectionsActive.Inc()
	WebSocketConnectionsActive.Dec()

	assert.Equal(t, before+1, testutil.ToFloat64(WebSocketConnectionsActive))
	WebSocketConnectionsActive.Dec()
}

func TestHTTPRequestDuration_Labels(t *testing.T) {
	assert.NotPanics(t, func() {
		HTTPRequestDuration.WithLabelValues("GET", "/api/v1/sessions", "200").Observe(0.05)
		HTTPRequestDuration.WithLabelValues("DELETE", "/api/v1/sessions/{id}", "404").Observe(0.1)
	})
}

func TestRecordDBStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	RecordDBStats(db)

	assert.Equal(t, float64(db.Stats().OpenConnections), testutil.ToFloat64(DBConnectionsOpen))
	assert.Equal(t, float64(db.Stats().Idle), testutil.ToFloat64(DBConnectionsIdle))
}
