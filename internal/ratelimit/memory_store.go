package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	value   int64
	expires time.Time
}

// MemoryStore keeps all limiter state in process. It serves single-instance
// deployments and tests; a single mutex makes every operation atomic.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	counters  map[string]*memoryCounter
	blocks    map[string]time.Time
	whitelist map[Identifier]struct{}
	blacklist map[Identifier]string
	log       []Violation // newest first
	lifetime  map[Identifier][]time.Time

	// Rolling window of the last RecordViolation call, 0 keeps every stamp
	lifetimeWindow time.Duration
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:       now,
		counters:  make(map[string]*memoryCounter),
		blocks:    make(map[string]time.Time),
		whitelist: make(map[Identifier]struct{}),
		blacklist: make(map[Identifier]string),
		lifetime:  make(map[Identifier][]time.Time),
	}
}

func (s *MemoryStore) Hit(_ context.Context, req HitRequest) (HitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if until, ok := s.blocks[req.BlockKey]; ok {
		if now.Before(until) {
			return HitResult{Outcome: HitBlocked, TTL: until.Sub(now)}, nil
		}
		delete(s.blocks, req.BlockKey)
	}

	c, ok := s.counters[req.CounterKey]
	if !ok || !now.Before(c.expires) {
		c = &memoryCounter{expires: now.Add(req.Window)}
		s.counters[req.CounterKey] = c
	}
	c.value++
	ttl := c.expires.Sub(now)

	if c.value <= int64(req.Points) {
		return HitResult{Outcome: HitCounted, Count: c.value, TTL: ttl}, nil
	}

	if req.Block > 0 {
		s.blocks[req.BlockKey] = now.Add(req.Block)
		delete(s.counters, req.CounterKey)
		return HitResult{Outcome: HitTransition, Count: c.value, TTL: req.Block}, nil
	}

	if c.value == int64(req.Points)+1 {
		return HitResult{Outcome: HitTransition, Count: c.value, TTL: ttl}, nil
	}
	return HitResult{Outcome: HitExceeded, Count: c.value, TTL: ttl}, nil
}

func (s *MemoryStore) RecordViolation(_ context.Context, v Violation, logSize int, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = append([]Violation{v}, s.log...)
	if logSize > 0 && len(s.log) > logSize {
		s.log = s.log[:logSize]
	}

	s.lifetimeWindow = window
	stamps := append(s.lifetime[v.Identifier], v.Timestamp)
	if window > 0 {
		cutoff := v.Timestamp.Add(-window)
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		stamps = kept
	}
	s.lifetime[v.Identifier] = stamps

	return int64(len(stamps)), nil
}

func (s *MemoryStore) RecentViolations(_ context.Context, n int) ([]Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return []Violation{}, nil
	}
	if n > len(s.log) {
		n = len(s.log)
	}

	out := make([]Violation, n)
	copy(out, s.log[:n])
	return out, nil
}

func (s *MemoryStore) ViolationLogLen(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.log)), nil
}

func (s *MemoryStore) ClearViolations(_ context.Context, id Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lifetime, id)
	return nil
}

func (s *MemoryStore) Standing(_ context.Context, id Identifier) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, white := s.whitelist[id]
	_, black := s.blacklist[id]
	return white, black, nil
}

func (s *MemoryStore) AddWhitelist(_ context.Context, id Identifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whitelist[id]; ok {
		return false, nil
	}
	s.whitelist[id] = struct{}{}
	return true, nil
}

func (s *MemoryStore) RemoveWhitelist(_ context.Context, id Identifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whitelist[id]; !ok {
		return false, nil
	}
	delete(s.whitelist, id)
	return true, nil
}

func (s *MemoryStore) AddBlacklist(_ context.Context, id Identifier, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.blacklist[id]
	s.blacklist[id] = reason
	return !exists, nil
}

func (s *MemoryStore) EscalateBlacklist(_ context.Context, id Identifier, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blacklist[id]; exists {
		return false, nil
	}
	s.blacklist[id] = reason
	return true, nil
}

func (s *MemoryStore) RemoveBlacklist(_ context.Context, id Identifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blacklist[id]; !ok {
		return false, nil
	}
	delete(s.blacklist, id)
	return true, nil
}

func (s *MemoryStore) Whitelist(_ context.Context) ([]Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Identifier, 0, len(s.whitelist))
	for id := range s.whitelist {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) Blacklist(_ context.Context) (map[Identifier]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Identifier]string, len(s.blacklist))
	for id, reason := range s.blacklist {
		out[id] = reason
	}
	return out, nil
}

func (s *MemoryStore) Inspect(_ context.Context, counterKey, blockKey string) (KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var state KeyState

	if c, ok := s.counters[counterKey]; ok && now.Before(c.expires) {
		state.Count = c.value
		state.CountTTL = c.expires.Sub(now)
	}
	if until, ok := s.blocks[blockKey]; ok && now.Before(until) {
		state.BlockTTL = until.Sub(now)
	}

	return state, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.counters, k)
		delete(s.blocks, k)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Sweep drops expired counters, block markers and lifetime violations outside
// the rolling window. Redis expires keys on its own; the memory backend needs a
// periodic call instead.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, c := range s.counters {
		if !now.Before(c.expires) {
			delete(s.counters, k)
			removed++
		}
	}
	for k, until := range s.blocks {
		if !now.Before(until) {
			delete(s.blocks, k)
			removed++
		}
	}
	if s.lifetimeWindow > 0 {
		cutoff := now.Add(-s.lifetimeWindow)
		for id, stamps := range s.lifetime {
			kept := stamps[:0]
			for _, ts := range stamps {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				delete(s.lifetime, id)
				removed++
				continue
			}
			s.lifetime[id] = kept
		}
	}
	return removed
}
