package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "optimizer:ratelimit"

type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// ResetAfter is the time left in the current window.
	ResetAfter time.Duration
	// RetryAfter is set only when the call was rejected.
	RetryAfter time.Duration
}

// FixedWindow allows limit calls per subject in each window. Counters live
// in redis so every api replica shares them.
type FixedWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	script    *redis.Script
}

var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl = window_ms
end

local allowed = 0
if count <= limit then
  allowed = 1
end

return {allowed, math.max(0, limit - count), ttl}
`)

func NewFixedWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*FixedWindow, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if window < time.Millisecond {
		return nil, errors.New("window must be at least 1ms")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &FixedWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		script:    fixedWindowScript,
	}, nil
}

func (l *FixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	raw, err := l.script.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.limit,
		l.window.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run fixed window script: %w", err)
	}
	d, err := parseDecision(raw)
	if err != nil {
		return Decision{}, err
	}
	d.Limit = l.limit
	return d, nil
}

func (l *FixedWindow) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, errors.New("invalid fixed window response")
	}

	allowed, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse allow value: %w", err)
	}
	remaining, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse remaining value: %w", err)
	}
	ttlMS, err := toInt64(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parse ttl value: %w", err)
	}

	d := Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		ResetAfter: time.Duration(ttlMS) * time.Millisecond,
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetAfter
	}
	return d, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
