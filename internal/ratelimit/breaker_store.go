package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/chatguard/internal/circuitbreaker"
	"go.uber.org/zap"
)

// BreakerStore guards a Store with a circuit breaker. While the breaker is open
// every call fails fast with ErrStoreUnavailable, so the limiter fails open
// without waiting out the store timeout on each request.
type BreakerStore struct {
	next    Store
	breaker *circuitbreaker.CircuitBreaker
}

var _ Store = (*BreakerStore)(nil)

func NewBreakerStore(next Store, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "ratelimit-store"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		breakerState.Set(float64(to))
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &BreakerStore{
		next:    next,
		breaker: circuitbreaker.New(cfg),
	}
}

func (s *BreakerStore) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

func guarded[T any](s *BreakerStore, op string, fn func() (T, error)) (T, error) {
	var out T
	err := s.breaker.Call(func() error {
		var err error
		out, err = fn()
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return out, storeError(op, err)
	}
	return out, err
}

func (s *BreakerStore) Hit(ctx context.Context, req HitRequest) (HitResult, error) {
	return guarded(s, "hit", func() (HitResult, error) {
		return s.next.Hit(ctx, req)
	})
}

func (s *BreakerStore) RecordViolation(ctx context.Context, v Violation, logSize int, window time.Duration) (int64, error) {
	return guarded(s, "record violation", func() (int64, error) {
		return s.next.RecordViolation(ctx, v, logSize, window)
	})
}

func (s *BreakerStore) RecentViolations(ctx context.Context, n int) ([]Violation, error) {
	return guarded(s, "recent violations", func() ([]Violation, error) {
		return s.next.RecentViolations(ctx, n)
	})
}

func (s *BreakerStore) ViolationLogLen(ctx context.Context) (int64, error) {
	return guarded(s, "violation log length", func() (int64, error) {
		return s.next.ViolationLogLen(ctx)
	})
}

func (s *BreakerStore) ClearViolations(ctx context.Context, id Identifier) error {
	_, err := guarded(s, "clear violations", func() (struct{}, error) {
		return struct{}{}, s.next.ClearViolations(ctx, id)
	})
	return err
}

func (s *BreakerStore) Standing(ctx context.Context, id Identifier) (bool, bool, error) {
	var black bool
	white, err := guarded(s, "standing", func() (bool, error) {
		w, b, err := s.next.Standing(ctx, id)
		black = b
		return w, err
	})
	return white, black, err
}

func (s *BreakerStore) AddWhitelist(ctx context.Context, id Identifier) (bool, error) {
	return guarded(s, "whitelist add", func() (bool, error) {
		return s.next.AddWhitelist(ctx, id)
	})
}

func (s *BreakerStore) RemoveWhitelist(ctx context.Context, id Identifier) (bool, error) {
	return guarded(s, "whitelist remove", func() (bool, error) {
		return s.next.RemoveWhitelist(ctx, id)
	})
}

func (s *BreakerStore) AddBlacklist(ctx context.Context, id Identifier, reason string) (bool, error) {
	return guarded(s, "blacklist add", func() (bool, error) {
		return s.next.AddBlacklist(ctx, id, reason)
	})
}

func (s *BreakerStore) EscalateBlacklist(ctx context.Context, id Identifier, reason string) (bool, error) {
	return guarded(s, "blacklist escalate", func() (bool, error) {
		return s.next.EscalateBlacklist(ctx, id, reason)
	})
}

func (s *BreakerStore) RemoveBlacklist(ctx context.Context, id Identifier) (bool, error) {
	return guarded(s, "blacklist remove", func() (bool, error) {
		return s.next.RemoveBlacklist(ctx, id)
	})
}

func (s *BreakerStore) Whitelist(ctx context.Context) ([]Identifier, error) {
	return guarded(s, "whitelist", func() ([]Identifier, error) {
		return s.next.Whitelist(ctx)
	})
}

func (s *BreakerStore) Blacklist(ctx context.Context) (map[Identifier]string, error) {
	return guarded(s, "blacklist", func() (map[Identifier]string, error) {
		return s.next.Blacklist(ctx)
	})
}

func (s *BreakerStore) Inspect(ctx context.Context, counterKey, blockKey string) (KeyState, error) {
	return guarded(s, "inspect", func() (KeyState, error) {
		return s.next.Inspect(ctx, counterKey, blockKey)
	})
}

func (s *BreakerStore) Delete(ctx context.Context, keys ...string) error {
	_, err := guarded(s, "delete", func() (struct{}, error) {
		return struct{}{}, s.next.Delete(ctx, keys...)
	})
	return err
}

// Ping bypasses the breaker so health probes see the real store state
func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}
