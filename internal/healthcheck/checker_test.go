package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	checker := NewChecker(&Config{
		MaxFailures: 2,
		Probes: []Probe{
			{Name: "redis", Check: func(ctx context.Context) error {
				if failing.Load() {
					return errors.New("connection refused")
				}
				return nil
			}},
			{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
		},
	}, nil)

	assert.Equal(t, Healthy, checker.OverallHealth())

	checker.CheckNow()
	assert.Equal(t, Healthy, checker.OverallHealth())
	assert.Equal(t, 1, checker.GetAllStatus()["redis"].FailureCount)

	checker.CheckNow()
	assert.Equal(t, Degraded, checker.OverallHealth())

	status := checker.GetAllStatus()["redis"]
	assert.False(t, status.IsHealthy)
	assert.Equal(t, "connection refused", status.LastError)

	failing.Store(false)
	checker.CheckNow()
	assert.Equal(t, Healthy, checker.OverallHealth())
	assert.Empty(t, checker.GetAllStatus()["redis"].LastError)
}

func TestChecker_AllProbesFailing(t *testing.T) {
	down := func(ctx context.Context) error { return errors.New("down") }
	checker := NewChecker(&Config{
		MaxFailures: 1,
		Probes:      []Probe{{Name: "a", Check: down}, {Name: "b", Check: down}},
	}, nil)

	checker.CheckNow()
	assert.Equal(t, Unhealthy, checker.OverallHealth())
}

func TestChecker_NoProbes(t *testing.T) {
	checker := NewChecker(&Config{}, nil)
	checker.CheckNow()
	assert.Equal(t, Healthy, checker.OverallHealth())
	assert.Empty(t, checker.GetAllStatus())
}

func TestChecker_StartStop(t *testing.T) {
	var calls atomic.Int32
	checker := NewChecker(&Config{
		Probes: []Probe{{Name: "x", Check: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}}},
	}, nil)

	checker.Start()
	checker.Start()
	checker.Stop()
	checker.Stop()

	// Start runs one synchronous round
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, HTTPProbe("up", srv.URL+"/health").Check(ctx))

	err := HTTPProbe("broken", srv.URL+"/broken").Check(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
