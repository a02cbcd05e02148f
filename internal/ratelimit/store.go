package ratelimit

import (
	"context"
	"time"
)

const keyPrefix = "ratelimit"

var (
	whitelistKey        = keyPrefix + ":whitelist"
	blacklistKey        = keyPrefix + ":blacklist"
	blacklistReasonsKey = keyPrefix + ":blacklist:reasons"
	violationLogKey     = keyPrefix + ":violations"
)

func counterKey(lt LimitType, id Identifier) string {
	return keyPrefix + ":" + string(lt) + ":" + string(id)
}

func blockKey(lt LimitType, id Identifier) string {
	return counterKey(lt, id) + ":blocked"
}

func lifetimeViolationsKey(id Identifier) string {
	return violationLogKey + ":" + string(id)
}

// HitOutcome tags what a single Hit did to the counter/block state machine
type HitOutcome int

const (
	// Counter incremented and still within budget
	HitCounted HitOutcome = iota
	// Block marker present, counter untouched
	HitBlocked
	// This hit pushed the counter over budget: the violation transition
	HitTransition
	// Over budget again with no block configured, not a new violation
	HitExceeded
)

func (o HitOutcome) String() string {
	switch o {
	case HitCounted:
		return "counted"
	case HitBlocked:
		return "blocked"
	case HitTransition:
		return "transition"
	case HitExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

type HitRequest struct {
	CounterKey string
	BlockKey   string
	Points     int
	Window     time.Duration
	Block      time.Duration
}

type HitResult struct {
	Outcome HitOutcome
	// Post-increment value, zero when blocked
	Count int64
	// Remaining lifetime of the counter (counted/exceeded) or block marker (blocked/transition)
	TTL time.Duration
}

type Violation struct {
	Identifier Identifier `json:"identifier"`
	LimitType  LimitType  `json:"limit_type"`
	Timestamp  time.Time  `json:"timestamp"`
}

// KeyState is a read-only view of one counter/block pair
type KeyState struct {
	Count    int64
	CountTTL time.Duration
	BlockTTL time.Duration // zero when not blocked
}

// Store is the shared state behind the limiter. Every method that changes state
// must be a single atomic operation on the backing store.
type Store interface {
	// Hit runs block check, increment with expiry on creation and the block
	// transition as one atomic step.
	Hit(ctx context.Context, req HitRequest) (HitResult, error)

	// RecordViolation appends to the bounded log and returns the identifier's
	// violation count within window (window 0 keeps every violation).
	RecordViolation(ctx context.Context, v Violation, logSize int, window time.Duration) (int64, error)
	RecentViolations(ctx context.Context, n int) ([]Violation, error)
	ViolationLogLen(ctx context.Context) (int64, error)
	ClearViolations(ctx context.Context, id Identifier) error

	// Standing reports whitelist and blacklist membership in one round trip
	Standing(ctx context.Context, id Identifier) (whitelisted, blacklisted bool, err error)
	AddWhitelist(ctx context.Context, id Identifier) (bool, error)
	RemoveWhitelist(ctx context.Context, id Identifier) (bool, error)
	AddBlacklist(ctx context.Context, id Identifier, reason string) (bool, error)
	// EscalateBlacklist adds id with reason unless it is already listed, in which
	// case the existing reason is kept. Reports whether id was added.
	EscalateBlacklist(ctx context.Context, id Identifier, reason string) (bool, error)
	RemoveBlacklist(ctx context.Context, id Identifier) (bool, error)
	Whitelist(ctx context.Context) ([]Identifier, error)
	Blacklist(ctx context.Context) (map[Identifier]string, error)

	Inspect(ctx context.Context, counterKey, blockKey string) (KeyState, error)
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
}
