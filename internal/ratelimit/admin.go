package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"go.uber.org/zap"
)

const DefaultRecentViolations = 100

type Stats struct {
	RecentViolations []Violation           `json:"recent_violations"`
	Whitelist        []Identifier          `json:"whitelist"`
	Blacklist        []Identifier          `json:"blacklist"`
	BlacklistReasons map[Identifier]string `json:"blacklist_reasons"`
	ViolationCount   int64                 `json:"violation_count"`
	WhitelistCount   int                   `json:"whitelist_count"`
	BlacklistCount   int                   `json:"blacklist_count"`
}

type LimitStatus struct {
	LimitType LimitType `json:"limit_type"`
	Limit     int       `json:"limit"`
	Count     int64     `json:"count"`
	Remaining int       `json:"remaining"`
	// Seconds until the counter expires, zero when no counter exists
	ResetIn    int  `json:"reset_in"`
	Blocked    bool `json:"blocked"`
	BlockedFor int  `json:"blocked_for"`
}

type IdentifierStatus struct {
	Identifier      Identifier    `json:"identifier"`
	Standing        string        `json:"standing"`
	BlacklistReason string        `json:"blacklist_reason,omitempty"`
	Limits          []LimitStatus `json:"limits"`
}

// Admin is the operator surface over limiter state
type Admin struct {
	store    Store
	registry *Registry
	sink     EventSink
	logger   *zap.Logger
	now      func() time.Time
	recent   int
}

func NewAdmin(store Store, registry *Registry, sink EventSink, logger *zap.Logger) *Admin {
	if sink == nil {
		sink = NopSink()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Admin{
		store:    store,
		registry: registry,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		recent:   DefaultRecentViolations,
	}
}

func (a *Admin) Stats(ctx context.Context) (Stats, error) {
	recent, err := a.store.RecentViolations(ctx, a.recent)
	if err != nil {
		return Stats{}, err
	}

	total, err := a.store.ViolationLogLen(ctx)
	if err != nil {
		return Stats{}, err
	}

	whitelist, err := a.store.Whitelist(ctx)
	if err != nil {
		return Stats{}, err
	}
	sortIdentifiers(whitelist)

	reasons, err := a.store.Blacklist(ctx)
	if err != nil {
		return Stats{}, err
	}
	blacklist := make([]Identifier, 0, len(reasons))
	for id := range reasons {
		blacklist = append(blacklist, id)
	}
	sortIdentifiers(blacklist)

	return Stats{
		RecentViolations: recent,
		Whitelist:        whitelist,
		Blacklist:        blacklist,
		BlacklistReasons: reasons,
		ViolationCount:   total,
		WhitelistCount:   len(whitelist),
		BlacklistCount:   len(blacklist),
	}, nil
}

// Reset clears counters and block markers for one limit type, or every type when lt is nil.
// Trust lists and the lifetime violation count are left alone.
func (a *Admin) Reset(ctx context.Context, id Identifier, lt *LimitType, actor string) error {
	types := LimitTypes()
	if lt != nil {
		if _, err := a.registry.PolicyFor(*lt); err != nil {
			return err
		}
		types = []LimitType{*lt}
	}

	keys := make([]string, 0, len(types)*2)
	for _, t := range types {
		keys = append(keys, counterKey(t, id), blockKey(t, id))
	}

	if err := a.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to reset %s: %w", id, err)
	}

	event := models.ReputationEvent{Action: models.ActionReset}
	if lt != nil {
		event.LimitType = string(*lt)
	}
	a.publish(id, actor, event)

	return nil
}

func (a *Admin) WhitelistAdd(ctx context.Context, id Identifier, actor string) (bool, error) {
	added, err := a.store.AddWhitelist(ctx, id)
	if err != nil {
		return false, err
	}
	if added {
		a.publish(id, actor, models.ReputationEvent{Action: models.ActionWhitelistAdd})
	}
	return added, nil
}

func (a *Admin) WhitelistRemove(ctx context.Context, id Identifier, actor string) (bool, error) {
	removed, err := a.store.RemoveWhitelist(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		a.publish(id, actor, models.ReputationEvent{Action: models.ActionWhitelistRemove})
	}
	return removed, nil
}

// BlacklistAdd blacklists id or replaces the reason of an existing entry
func (a *Admin) BlacklistAdd(ctx context.Context, id Identifier, reason, actor string) (bool, error) {
	if reason == "" {
		reason = "manual"
	}

	added, err := a.store.AddBlacklist(ctx, id, reason)
	if err != nil {
		return false, err
	}
	a.publish(id, actor, models.ReputationEvent{Action: models.ActionBlacklistAdd, Reason: reason})
	return added, nil
}

// BlacklistRemove lifts a blacklist entry. The lifetime violation count survives
// unless clearViolations is set, so a quickly re-offending identifier escalates again.
func (a *Admin) BlacklistRemove(ctx context.Context, id Identifier, clearViolations bool, actor string) (bool, error) {
	removed, err := a.store.RemoveBlacklist(ctx, id)
	if err != nil {
		return false, err
	}

	if clearViolations {
		if err := a.store.ClearViolations(ctx, id); err != nil {
			return removed, err
		}
	}

	if removed {
		reason := ""
		if clearViolations {
			reason = "violations cleared"
		}
		a.publish(id, actor, models.ReputationEvent{Action: models.ActionBlacklistRemove, Reason: reason})
	}
	return removed, nil
}

func (a *Admin) Status(ctx context.Context, id Identifier) (IdentifierStatus, error) {
	white, black, err := a.store.Standing(ctx, id)
	if err != nil {
		return IdentifierStatus{}, err
	}

	status := IdentifierStatus{Identifier: id, Standing: StandingNeutral.String()}
	switch {
	case white:
		status.Standing = StandingWhitelisted.String()
	case black:
		status.Standing = StandingBlacklisted.String()
	}

	if black {
		reasons, err := a.store.Blacklist(ctx)
		if err != nil {
			return IdentifierStatus{}, err
		}
		status.BlacklistReason = reasons[id]
	}

	for _, p := range a.registry.Policies() {
		state, err := a.store.Inspect(ctx, counterKey(p.Name, id), blockKey(p.Name, id))
		if err != nil {
			return IdentifierStatus{}, err
		}

		remaining := p.Points - int(state.Count)
		if remaining < 0 || state.BlockTTL > 0 {
			remaining = 0
		}
		status.Limits = append(status.Limits, LimitStatus{
			LimitType:  p.Name,
			Limit:      p.Points,
			Count:      state.Count,
			Remaining:  remaining,
			ResetIn:    ceilSeconds(state.CountTTL),
			Blocked:    state.BlockTTL > 0,
			BlockedFor: ceilSeconds(state.BlockTTL),
		})
	}

	return status, nil
}

func (a *Admin) Policies() []LimitPolicy {
	return a.registry.Policies()
}

func (a *Admin) publish(id Identifier, actor string, event models.ReputationEvent) {
	event.Identifier = id.String()
	event.Source = models.SourceManual
	event.Actor = actor
	event.CreatedAt = a.now()

	a.logger.Info("reputation changed",
		zap.String("action", event.Action),
		zap.String("identifier", event.Identifier),
		zap.String("actor", actor),
	)
	a.sink.Publish(event)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func sortIdentifiers(ids []Identifier) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
