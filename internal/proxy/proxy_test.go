package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aman-churiwal/chatguard/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Serves through a real listener: httputil.ReverseProxy needs a full http.ResponseWriter
func newProxyServer(t *testing.T, target string, maxFailures int) (*httptest.Server, *Proxy) {
	t.Helper()

	p, err := New(Config{
		Target:         target,
		CircuitBreaker: circuitbreaker.Config{MaxFailures: maxFailures},
	}, zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.Any("/api/*proxyPath", p.Handle)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, p
}

func send(t *testing.T, ts *httptest.Server, req *http.Request) (int, http.Header, string) {
	t.Helper()

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, string(body)
}

func getDashboard(t *testing.T, ts *httptest.Server) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/dashboard", nil)
	require.NoError(t, err)
	code, _, body := send(t, ts, req)
	return code, body
}

func TestProxy_ForwardsRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.Header().Set("X-Upstream-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	ts, _ := newProxyServer(t, upstream.URL, 3)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/messages", nil)
	require.NoError(t, err)
	req.Host = "chat.example.com"

	code, header, body := send(t, ts, req)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ok", body)
	assert.Equal(t, "/api/messages", header.Get("X-Upstream-Path"))
	assert.Equal(t, "chat.example.com", header.Get("X-Upstream-Forwarded-Host"))
}

func TestProxy_OpensBreakerOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	ts, p := newProxyServer(t, upstream.URL, 2)

	for i := 0; i < 2; i++ {
		code, _ := getDashboard(t, ts)
		assert.Equal(t, http.StatusInternalServerError, code)
	}
	require.Equal(t, circuitbreaker.StateOpen, p.Breaker().State())

	code, _ := getDashboard(t, ts)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, int32(2), hits.Load())
}

func TestProxy_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	ts, _ := newProxyServer(t, target, 5)

	code, body := getDashboard(t, ts)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.JSONEq(t, `{"error":"bad gateway"}`, body)
}

func TestNew_RejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "localhost:3001", "/relative"} {
		_, err := New(Config{Target: target}, zap.NewNop())
		assert.Error(t, err, target)
	}
}
