package ratelimit

import (
	"context"

	"github.com/aman-churiwal/chatguard/internal/models"
)

type Standing int

const (
	StandingNeutral Standing = iota
	StandingWhitelisted
	StandingBlacklisted
)

func (s Standing) String() string {
	switch s {
	case StandingWhitelisted:
		return "whitelisted"
	case StandingBlacklisted:
		return "blacklisted"
	default:
		return "neutral"
	}
}

// Gate checks the operator trust lists before any counter is touched
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Check resolves standing in one round trip. Whitelist outranks blacklist.
func (g *Gate) Check(ctx context.Context, id Identifier) (Standing, error) {
	white, black, err := g.store.Standing(ctx, id)
	if err != nil {
		return StandingNeutral, err
	}

	switch {
	case white:
		return StandingWhitelisted, nil
	case black:
		return StandingBlacklisted, nil
	default:
		return StandingNeutral, nil
	}
}

// EventSink receives reputation changes for the audit trail. Publish must not block.
type EventSink interface {
	Publish(event models.ReputationEvent)
}

type nopSink struct{}

func (nopSink) Publish(models.ReputationEvent) {}

// NopSink discards every event
func NopSink() EventSink {
	return nopSink{}
}
