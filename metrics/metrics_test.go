package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEscrowCallsByResult(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.calls.WithLabelValues("buy", "rejected"))
	m.ObserveCall("buy", errors.New("nope"))
	m.ObserveCall("buy", nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.calls.WithLabelValues("buy", "rejected")))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.calls.WithLabelValues("buy", "approved")), 1.0)
}

func TestLedgerObserveBlock(t *testing.T) {
	m := Ledger()
	m.ObserveBlock(7, 3)
	require.Equal(t, 7.0, testutil.ToFloat64(m.height))
	m.ObserveGroup(false)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.groups.WithLabelValues("rejected")), 1.0)
}

func TestGatewaySubmission(t *testing.T) {
	m := Gateway()
	before := testutil.ToFloat64(m.submissions.WithLabelValues("confirmed"))
	m.ObserveSubmission("confirmed", 10*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.submissions.WithLabelValues("confirmed")))
}

func TestNilReceiversAreSafe(t *testing.T) {
	var e *EscrowMetrics
	var l *LedgerMetrics
	var g *GatewayMetrics
	var r *RPCMetrics
	require.NotPanics(t, func() {
		e.ObserveCall("x", nil)
		l.ObserveGroup(true)
		g.IncRetry()
		r.IncThrottle()
	})
}
