package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credrotate/internal/logging"
)

func TestInitMetrics(t *testing.T) {
	InitMetrics()
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetPassTotal())
	assert.NotNil(t, GetActionsTotal())
	assert.NotNil(t, GetProvisioningErrors())
	assert.NotNil(t, GetBindingState())
	assert.NotNil(t, GetCurrentEpoch())
}

func TestRecordPassAndActions(t *testing.T) {
	InitMetrics()
	m := New()

	m.RecordPass("metrics-pass", "success", 2*time.Second)
	m.RecordPass("metrics-pass", "success", time.Second)
	m.RecordAction("metrics-pass", "destroy-then-create")

	assert.Equal(t, 2.0, testutil.ToFloat64(GetPassTotal().WithLabelValues("metrics-pass", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetActionsTotal().WithLabelValues("metrics-pass", "destroy-then-create")))
}

func TestObserveProvisioningCall(t *testing.T) {
	InitMetrics()
	m := New()

	m.ObserveProvisioningCall("metrics-backend", "read", 10*time.Millisecond, nil)
	m.ObserveProvisioningCall("metrics-backend", "read", 10*time.Millisecond, errors.New("503"))

	assert.Equal(t, 1.0, testutil.ToFloat64(GetProvisioningErrors().WithLabelValues("metrics-backend", "read")))
}

func TestRecordState(t *testing.T) {
	InitMetrics()
	m := New()

	m.RecordState("metrics-state", 7, "stale", time.Unix(1700000000, 0))

	assert.Equal(t, 7.0, testutil.ToFloat64(GetCurrentEpoch().WithLabelValues("metrics-state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetBindingState().WithLabelValues("metrics-state", "stale")))
	assert.Equal(t, 0.0, testutil.ToFloat64(GetBindingState().WithLabelValues("metrics-state", "provisioned")))

	m.RecordState("metrics-state", 8, "provisioned", time.Time{})
	assert.Equal(t, 0.0, testutil.ToFloat64(GetBindingState().WithLabelValues("metrics-state", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetBindingState().WithLabelValues("metrics-state", "provisioned")))
}

func TestServer(t *testing.T) {
	s := NewServer("127.0.0.1:0", logging.Discard())
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	New().RecordPass("metrics-server", "success", time.Second)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "credrotate_pass_total")

	health, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", nil).Stop(context.Background()))
}
