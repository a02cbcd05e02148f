package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/aman-churiwal/chatguard/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream error")

// Proxy forwards admitted requests to the dashboard backend
type Proxy struct {
	target         *url.URL
	reverseProxy   *httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

type Config struct {
	Target         string
	CircuitBreaker circuitbreaker.Config
}

func New(cfg Config, logger *zap.Logger) (*Proxy, error) {
	if cfg.Target == "" {
		return nil, errors.New("upstream target is required")
	}

	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream target must be an absolute URL")
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "upstream"
	}
	if cfg.CircuitBreaker.Timeout <= 0 {
		cfg.CircuitBreaker.Timeout = 30 * time.Second
	}
	cfg.CircuitBreaker.OnStateChange = func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"bad gateway"}`))
	}

	logger.Info("proxy initialized", zap.String("target", target.String()))

	return &Proxy{
		target:         target,
		reverseProxy:   rp,
		circuitBreaker: circuitbreaker.New(cfg.CircuitBreaker),
		logger:         logger,
	}, nil
}

// Forwards the request to the backend
func (p *Proxy) Handle(c *gin.Context) {
	err := p.circuitBreaker.Call(func() error {
		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}

		req := c.Request
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Host = p.target.Host

		p.reverseProxy.ServeHTTP(recorder, req)

		if recorder.statusCode >= 500 {
			return errUpstream
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	// Other errors already produced a response from the upstream or ErrorHandler
}

func (p *Proxy) Breaker() *circuitbreaker.CircuitBreaker {
	return p.circuitBreaker
}

// Captures the response status code
type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
