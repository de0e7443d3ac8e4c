package observability_test

import (
	"LockerLedger/internal/observability"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the first sample of a metric family, 0 when absent.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
	}
	return 0
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	r1, r2 := prometheus.NewRegistry(), prometheus.NewRegistry()
	m1 := observability.NewMetrics(r1)
	observability.NewMetrics(r2)

	m1.OpsApplied.WithLabelValues("contribute").Inc()

	assert.Equal(t, 1.0, gathered(t, r1, "locker_ops_applied_total"))
	assert.Equal(t, 0.0, gathered(t, r2, "locker_ops_applied_total"))
}

func TestSetChannelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.SetChannelMetrics("persist", 25, 100)

	assert.Equal(t, 0.25, gathered(t, reg, "locker_channel_utilization"))

	var nilMetrics *observability.Metrics
	nilMetrics.SetChannelMetrics("persist", 1, 1)
}

func TestReadiness(t *testing.T) {
	h := observability.NewHealthChecker()

	serve := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := serve()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])

	h.SetReady(true)
	failing := true
	h.AddCheck("postgres", func(ctx context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	})

	code, body = serve()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])

	failing = false
	code, body = serve()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "dispatcher", observability.ParseLogLevel("warn"))

	log.Info().Msg("hidden")
	log.Warn().Str("locker_id", "abc").Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatcher", line["component"])
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, zerolog.WarnLevel, observability.ParseLogLevel("warn"))
}
