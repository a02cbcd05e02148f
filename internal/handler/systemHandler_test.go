package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/chatguard/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemHandler_CircuitBreakers(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "upstream", MaxFailures: 1})
	_ = cb.Call(func() error { return errors.New("down") })
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	h := NewSystemHandler(map[string]*circuitbreaker.CircuitBreaker{"upstream": cb})
	r := gin.New()
	r.GET("/circuit-breakers", h.CircuitBreakerStatus)
	r.POST("/circuit-breakers/:name/reset", h.ResetCircuitBreaker)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/circuit-breakers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var statuses map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	assert.Equal(t, "open", statuses["upstream"]["state"])
	assert.Equal(t, float64(1), statuses["upstream"]["failure_count"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/circuit-breakers/upstream/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/circuit-breakers/missing/reset", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
