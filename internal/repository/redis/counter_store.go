package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

const sweepScanCount = 200

// reserveScript trims the window, counts and conditionally adds the hit in one server-side step.
// KEYS[1] counter key; ARGV: window start, score, member, limit, ttl in ms (0 keeps no ttl).
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
  count = count + 1
  allowed = 1
  if tonumber(ARGV[5]) > 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[5])
  end
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0)
local first = ''
if #oldest > 0 then
  first = oldest[1]
end
return {allowed, count, first}
`)

// SlidingWindowConfig defines configuration for the sliding window counters.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// CounterStore persists timestamped hits in Redis sorted sets so that limits are shared
// between replicas.
type CounterStore struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewCounterStore constructs a store using the provided Redis client and config.
func NewCounterStore(client *redis.Client, cfg SlidingWindowConfig) *CounterStore {
	return &CounterStore{client: client, cfg: cfg}
}

// RecordAttempt stores the provided timestamp and refreshes the key TTL.
func (s *CounterStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := s.key(identifier)
	member := redis.Z{Score: float64(at.UnixNano()), Member: newMember(at)}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, member)
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

// CountAttempts returns how many hits occurred within the window ending at reference.
func (s *CounterStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	min, max := scoreRange(window, reference)
	count, err := s.client.ZCount(ctx, s.key(identifier), min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow removes hits older than the window relative to reference.
func (s *CounterStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	threshold := fmt.Sprintf("(%d", reference.Add(-window).UnixNano())
	if err := s.client.ZRemRangeByScore(ctx, s.key(identifier), "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// OldestAttempt returns the oldest hit remaining inside the active window.
func (s *CounterStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	min, max := scoreRange(window, reference)
	values, err := s.client.ZRangeByScore(ctx, s.key(identifier), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	if len(values) == 0 {
		return time.Time{}, false, nil
	}

	oldest, err := memberTime(values[0])
	if err != nil {
		return time.Time{}, false, err
	}

	return oldest, true, nil
}

// ReserveAttempt runs the check-and-record as a Lua script so concurrent replicas cannot
// overshoot the limit.
func (s *CounterStore) ReserveAttempt(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.Reservation, error) {
	if window <= 0 {
		return port.Reservation{}, errors.New("window must be positive")
	}

	member := newMember(at)
	raw, err := reserveScript.Run(ctx, s.client, []string{s.key(identifier)},
		at.Add(-window).UnixNano(),
		at.UnixNano(),
		member,
		limit,
		s.cfg.TTL.Milliseconds(),
	).Slice()
	if err != nil {
		return port.Reservation{}, fmt.Errorf("redis reserve attempt: %w", err)
	}
	if len(raw) != 3 {
		return port.Reservation{}, fmt.Errorf("redis reserve attempt: unexpected reply %v", raw)
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	res := port.Reservation{Allowed: allowed == 1, Count: int(count)}
	if first, _ := raw[2].(string); first != "" {
		if res.Oldest, err = memberTime(first); err != nil {
			return port.Reservation{}, err
		}
	}
	if res.Allowed {
		res.ID = member
	}

	return res, nil
}

// ReleaseAttempt removes a reserved hit by its member.
func (s *CounterStore) ReleaseAttempt(ctx context.Context, identifier, id string) error {
	if id == "" {
		return nil
	}
	if err := s.client.ZRem(ctx, s.key(identifier), id).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

// Sweep deletes counter keys whose newest hit is older than cutoff.
func (s *CounterStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := s.key("*")
	limit := float64(cutoff.UnixNano())

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, sweepScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}

		for _, key := range keys {
			newest, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
			if err != nil {
				return removed, fmt.Errorf("redis zrevrange: %w", err)
			}
			if len(newest) > 0 && newest[0].Score >= limit {
				continue
			}
			deleted, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(deleted)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *CounterStore) key(identifier string) string {
	if s.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", s.cfg.KeyPrefix, identifier)
}

// newMember keeps members unique when two hits share a timestamp.
func newMember(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
}

func memberTime(member string) (time.Time, error) {
	nanos, _, _ := strings.Cut(member, ":")
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return time.Unix(0, ts), nil
}

func scoreRange(window time.Duration, reference time.Time) (string, string) {
	return strconv.FormatInt(reference.Add(-window).UnixNano(), 10), strconv.FormatInt(reference.UnixNano(), 10)
}

var _ port.CounterStore = (*CounterStore)(nil)
