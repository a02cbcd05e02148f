package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 250 * time.Millisecond

// Reason says why a verdict was reached. It is for logs and metrics only and is
// never shown to the client.
type Reason string

const (
	ReasonWithinLimit Reason = "within_limit"
	ReasonWhitelisted Reason = "whitelisted"
	ReasonFailOpen    Reason = "fail_open"
	ReasonBlacklisted Reason = "blacklisted"
	ReasonBlocked     Reason = "blocked"
	ReasonViolation   Reason = "violation"
	ReasonExceeded    Reason = "exceeded"
)

// Verdict is the admission decision for one request
type Verdict struct {
	Allowed    bool
	LimitType  LimitType
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
	Reason     Reason
}

// RetryAfterSeconds rounds up so a client never retries before the block lifts
func (v Verdict) RetryAfterSeconds() int {
	if v.Allowed {
		return 0
	}
	secs := int((v.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type Options struct {
	// Budget for each store round trip, derived from a context that ignores
	// client cancellation
	Timeout time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

type Limiter struct {
	store    Store
	registry *Registry
	gate     *Gate
	recorder *Recorder
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	// Throttles fail-open warnings so an outage does not flood the log
	logLimiter *rate.Limiter
}

func NewLimiter(store Store, registry *Registry, recorder *Recorder, opts Options) *Limiter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Limiter{
		store:      store,
		registry:   registry,
		gate:       NewGate(store),
		recorder:   recorder,
		timeout:    opts.Timeout,
		now:        opts.Now,
		logger:     opts.Logger,
		logLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Evaluate decides whether the request may proceed. The only error is a
// *ConfigurationError for an unknown limit type; store trouble yields an ALLOW.
func (l *Limiter) Evaluate(ctx context.Context, rc RequestContext, lt LimitType) (Verdict, error) {
	return l.EvaluateIdentifier(ctx, Resolve(rc), lt)
}

func (l *Limiter) EvaluateIdentifier(ctx context.Context, id Identifier, lt LimitType) (Verdict, error) {
	policy, err := l.registry.PolicyFor(lt)
	if err != nil {
		return Verdict{}, err
	}

	start := time.Now()
	defer func() {
		checkLatency.WithLabelValues(string(lt)).Observe(time.Since(start).Seconds())
	}()

	verdict := l.evaluate(ctx, id, policy)
	decisions.WithLabelValues(string(lt), decisionLabel(verdict.Allowed), string(verdict.Reason)).Inc()

	return verdict, nil
}

func (l *Limiter) evaluate(ctx context.Context, id Identifier, policy LimitPolicy) Verdict {
	// The attempt is the abuse signal, so a client hanging up must not cancel it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	now := l.now()

	standing, err := l.gate.Check(ctx, id)
	if err != nil {
		l.storeFailed("standing", id, policy.Name, err)
	}

	switch standing {
	case StandingWhitelisted:
		return l.allowFull(policy, now, ReasonWhitelisted)
	case StandingBlacklisted:
		retry := policy.Block
		if retry <= 0 {
			retry = policy.Window
		}
		return l.deny(policy, now, retry, ReasonBlacklisted)
	}

	res, err := l.store.Hit(ctx, HitRequest{
		CounterKey: counterKey(policy.Name, id),
		BlockKey:   blockKey(policy.Name, id),
		Points:     policy.Points,
		Window:     policy.Window,
		Block:      policy.Block,
	})
	if err != nil {
		l.storeFailed("hit", id, policy.Name, err)
		return l.allowFull(policy, now, ReasonFailOpen)
	}

	switch res.Outcome {
	case HitCounted:
		remaining := policy.Points - int(res.Count)
		if remaining < 0 {
			remaining = 0
		}
		return Verdict{
			Allowed:   true,
			LimitType: policy.Name,
			Limit:     policy.Points,
			Remaining: remaining,
			ResetAt:   now.Add(res.TTL),
			Reason:    ReasonWithinLimit,
		}
	case HitBlocked:
		return l.deny(policy, now, res.TTL, ReasonBlocked)
	case HitTransition:
		l.recordViolation(ctx, id, policy.Name, now)
		return l.deny(policy, now, res.TTL, ReasonViolation)
	default:
		return l.deny(policy, now, res.TTL, ReasonExceeded)
	}
}

func (l *Limiter) recordViolation(ctx context.Context, id Identifier, lt LimitType, now time.Time) {
	if l.recorder == nil {
		return
	}

	// Fresh budget: the hit may have used most of the first one
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if _, err := l.recorder.Record(ctx, Violation{Identifier: id, LimitType: lt, Timestamp: now}); err != nil {
		l.storeFailed("violation", id, lt, err)
	}
}

func (l *Limiter) allowFull(policy LimitPolicy, now time.Time, reason Reason) Verdict {
	return Verdict{
		Allowed:   true,
		LimitType: policy.Name,
		Limit:     policy.Points,
		Remaining: policy.Points,
		ResetAt:   now.Add(policy.Window),
		Reason:    reason,
	}
}

func (l *Limiter) deny(policy LimitPolicy, now time.Time, retry time.Duration, reason Reason) Verdict {
	if retry <= 0 {
		retry = time.Second
	}
	return Verdict{
		Allowed:    false,
		LimitType:  policy.Name,
		Limit:      policy.Points,
		Remaining:  0,
		ResetAt:    now.Add(retry),
		RetryAfter: retry,
		Reason:     reason,
	}
}

func (l *Limiter) storeFailed(op string, id Identifier, lt LimitType, err error) {
	storeFailures.WithLabelValues(op).Inc()

	if l.logLimiter.Allow() {
		l.logger.Warn("rate limit store failure, failing open",
			zap.String("operation", op),
			zap.String("identifier", id.String()),
			zap.String("limit_type", string(lt)),
			zap.Error(err),
		)
	}
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
