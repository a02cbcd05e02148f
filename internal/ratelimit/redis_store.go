package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/chatguard/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Block check, increment, first-increment expiry and block transition in one
// script. A plain INCR followed by EXPIRE lets concurrent first hits keep pushing
// the expiry out, so the window never closes under load.
//
// Returns {outcome, count, ttl_ms}; outcome matches HitOutcome.
var hitScript = redis.NewScript(`
local counter = KEYS[1]
local block = KEYS[2]
local points = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local blockms = tonumber(ARGV[3])

local blocked = redis.call('PTTL', block)
if blocked == -1 then
  blocked = math.max(blockms, window)
  redis.call('PEXPIRE', block, blocked)
end
if blocked > 0 then
  return {1, 0, blocked}
end

local count = redis.call('INCR', counter)
if count == 1 then
  redis.call('PEXPIRE', counter, window)
end
local ttl = redis.call('PTTL', counter)
if ttl < 0 then
  redis.call('PEXPIRE', counter, window)
  ttl = window
end

if count <= points then
  return {0, count, ttl}
end

if blockms > 0 then
  redis.call('SET', block, '1', 'PX', blockms)
  redis.call('DEL', counter)
  return {2, count, blockms}
end

if count == points + 1 then
  return {2, count, ttl}
end
return {3, count, ttl}
`)

// Appends to the bounded log and counts the identifier's violations inside the
// rolling window. Returns the count.
var violationScript = redis.NewScript(`
local log = KEYS[1]
local lifetime = KEYS[2]
local entry = ARGV[1]
local size = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('LPUSH', log, entry)
redis.call('LTRIM', log, 0, size - 1)

if window > 0 then
  redis.call('ZREMRANGEBYSCORE', lifetime, '-inf', now - window)
end
redis.call('ZADD', lifetime, ARGV[3], member)
if window > 0 then
  redis.call('PEXPIRE', lifetime, window)
end
return redis.call('ZCARD', lifetime)
`)

type RedisStore struct {
	redis *storage.RedisClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Hit(ctx context.Context, req HitRequest) (HitResult, error) {
	res, err := hitScript.Run(ctx, s.redis.Client,
		[]string{req.CounterKey, req.BlockKey},
		req.Points, req.Window.Milliseconds(), req.Block.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return HitResult{}, storeError("hit", err)
	}
	if len(res) != 3 {
		return HitResult{}, storeError("hit", fmt.Errorf("unexpected script result %v", res))
	}

	return HitResult{
		Outcome: HitOutcome(res[0]),
		Count:   res[1],
		TTL:     time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (s *RedisStore) RecordViolation(ctx context.Context, v Violation, logSize int, window time.Duration) (int64, error) {
	entry, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode violation: %w", err)
	}

	count, err := violationScript.Run(ctx, s.redis.Client,
		[]string{violationLogKey, lifetimeViolationsKey(v.Identifier)},
		string(entry), logSize, v.Timestamp.UnixMilli(), window.Milliseconds(), uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, storeError("record violation", err)
	}

	return count, nil
}

func (s *RedisStore) RecentViolations(ctx context.Context, n int) ([]Violation, error) {
	if n <= 0 {
		return []Violation{}, nil
	}

	raw, err := s.redis.Client.LRange(ctx, violationLogKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, storeError("recent violations", err)
	}

	out := make([]Violation, 0, len(raw))
	for _, item := range raw {
		var v Violation
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			// Skip entries we cannot read rather than hiding the rest
			continue
		}
		out = append(out, v)
	}

	return out, nil
}

func (s *RedisStore) ViolationLogLen(ctx context.Context) (int64, error) {
	n, err := s.redis.Client.LLen(ctx, violationLogKey).Result()
	if err != nil {
		return 0, storeError("violation log length", err)
	}
	return n, nil
}

func (s *RedisStore) ClearViolations(ctx context.Context, id Identifier) error {
	if err := s.redis.Client.Del(ctx, lifetimeViolationsKey(id)).Err(); err != nil {
		return storeError("clear violations", err)
	}
	return nil
}

func (s *RedisStore) Standing(ctx context.Context, id Identifier) (bool, bool, error) {
	var white, black *redis.BoolCmd

	_, err := s.redis.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		white = pipe.SIsMember(ctx, whitelistKey, string(id))
		black = pipe.SIsMember(ctx, blacklistKey, string(id))
		return nil
	})
	if err != nil {
		return false, false, storeError("standing", err)
	}

	return white.Val(), black.Val(), nil
}

func (s *RedisStore) AddWhitelist(ctx context.Context, id Identifier) (bool, error) {
	n, err := s.redis.Client.SAdd(ctx, whitelistKey, string(id)).Result()
	if err != nil {
		return false, storeError("whitelist add", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RemoveWhitelist(ctx context.Context, id Identifier) (bool, error) {
	n, err := s.redis.Client.SRem(ctx, whitelistKey, string(id)).Result()
	if err != nil {
		return false, storeError("whitelist remove", err)
	}
	return n > 0, nil
}

func (s *RedisStore) AddBlacklist(ctx context.Context, id Identifier, reason string) (bool, error) {
	var added *redis.IntCmd

	_, err := s.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, blacklistKey, string(id))
		pipe.HSet(ctx, blacklistReasonsKey, string(id), reason)
		return nil
	})
	if err != nil {
		return false, storeError("blacklist add", err)
	}

	return added.Val() > 0, nil
}

func (s *RedisStore) EscalateBlacklist(ctx context.Context, id Identifier, reason string) (bool, error) {
	var added *redis.IntCmd

	_, err := s.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, blacklistKey, string(id))
		pipe.HSetNX(ctx, blacklistReasonsKey, string(id), reason)
		return nil
	})
	if err != nil {
		return false, storeError("blacklist escalate", err)
	}

	return added.Val() > 0, nil
}

func (s *RedisStore) RemoveBlacklist(ctx context.Context, id Identifier) (bool, error) {
	var removed *redis.IntCmd

	_, err := s.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, blacklistKey, string(id))
		pipe.HDel(ctx, blacklistReasonsKey, string(id))
		return nil
	})
	if err != nil {
		return false, storeError("blacklist remove", err)
	}

	return removed.Val() > 0, nil
}

func (s *RedisStore) Whitelist(ctx context.Context) ([]Identifier, error) {
	members, err := s.redis.Client.SMembers(ctx, whitelistKey).Result()
	if err != nil {
		return nil, storeError("whitelist", err)
	}

	out := make([]Identifier, 0, len(members))
	for _, m := range members {
		out = append(out, Identifier(m))
	}
	return out, nil
}

func (s *RedisStore) Blacklist(ctx context.Context) (map[Identifier]string, error) {
	var members *redis.StringSliceCmd
	var reasons *redis.MapStringStringCmd

	_, err := s.redis.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, blacklistKey)
		reasons = pipe.HGetAll(ctx, blacklistReasonsKey)
		return nil
	})
	if err != nil {
		return nil, storeError("blacklist", err)
	}

	out := make(map[Identifier]string, len(members.Val()))
	for _, m := range members.Val() {
		out[Identifier(m)] = reasons.Val()[m]
	}
	return out, nil
}

func (s *RedisStore) Inspect(ctx context.Context, counterKey, blockKey string) (KeyState, error) {
	var count *redis.StringCmd
	var countTTL, blockTTL *redis.DurationCmd

	_, err := s.redis.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Get(ctx, counterKey)
		countTTL = pipe.PTTL(ctx, counterKey)
		blockTTL = pipe.PTTL(ctx, blockKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return KeyState{}, storeError("inspect", err)
	}

	var state KeyState
	if count.Err() == nil {
		state.Count, _ = strconv.ParseInt(count.Val(), 10, 64)
	}
	if ttl := countTTL.Val(); ttl > 0 {
		state.CountTTL = ttl
	}
	if ttl := blockTTL.Val(); ttl > 0 {
		state.BlockTTL = ttl
	}

	return state, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Client.Del(ctx, keys...).Err(); err != nil {
		return storeError("delete", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}
