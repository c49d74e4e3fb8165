package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveCycle("JOB-001", "bash", 120, 2*time.Second)
	r.ObserveCycle("JOB-001", "bash", 80, time.Second)
	r.ObserveCycle("JOB-001", "write", 50, time.Second)
	r.ObserveBrain("cli", true, time.Second)
	r.ObserveBrain("cli", false, time.Second)
	r.IncJob("COMPLETE")
	r.IncRelayed("report")
	r.IncHandoff("cli", "gui")
	r.SetActiveSessions("running", 3)

	assert.InDelta(t, 2, testutil.ToFloat64(r.cyclesTotal.WithLabelValues("JOB-001", "bash")), 0)
	assert.InDelta(t, 250, testutil.ToFloat64(r.promptTokensTotal.WithLabelValues("JOB-001")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.brainRequests.WithLabelValues("cli", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.jobsTotal.WithLabelValues("COMPLETE")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.handoffsTotal.WithLabelValues("cli", "gui")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.activeSessions.WithLabelValues("running")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["omegaclaw_cycles_total"])
	assert.True(t, names["omegaclaw_relayed_total"])
}

func TestNopRecorder(_ *testing.T) {
	r := Nop()
	r.ObserveCycle("JOB-001", "bash", 1, time.Second)
	r.ObserveBrain("cli", true, time.Second)
	r.IncJob("FAILED")
	r.IncRelayed("blocker")
	r.IncHandoff("cli", "gui")
	r.SetActiveSessions("blocked", 0)
}

func TestNewQueryService(t *testing.T) {
	q, err := NewQueryService("http://localhost:9090")
	require.NoError(t, err)
	assert.NotNil(t, q)
}
