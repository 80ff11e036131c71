// Package redisguest stores the anonymous allowance in Redis so it
// survives restarts and is shared by every process serving the same
// visitor key.
package redisguest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/guest"
)

// consumeScript increments the used count only while it is below the
// allowance. It returns {granted, used}.
const consumeScript = `
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local allowance = tonumber(ARGV[1])
if used >= allowance then
  return {0, used}
end
used = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return {1, used}
`

// refundScript decrements the used count but never below zero.
const refundScript = `
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`

// Counter is a guest.Counter backed by a single Redis key holding the
// number of generations used.
type Counter struct {
	client    redis.UniversalClient
	key       string
	allowance int
	ttl       time.Duration
	consume   *redis.Script
	refund    *redis.Script
}

var _ guest.Counter = (*Counter)(nil)

// New returns a counter on key. A positive ttl expires the key after the
// last consumption, restoring the allowance.
func New(client redis.UniversalClient, key string, allowance int, ttl time.Duration) *Counter {
	if allowance < 0 {
		allowance = 0
	}
	return &Counter{
		client:    client,
		key:       key,
		allowance: allowance,
		ttl:       ttl,
		consume:   redis.NewScript(consumeScript),
		refund:    redis.NewScript(refundScript),
	}
}

// TryConsume grants one generation if the allowance is not used up.
func (c *Counter) TryConsume(ctx context.Context) (entitlement.Result, error) {
	res, err := c.consume.Run(ctx, c.client,
		[]string{c.key},
		c.allowance,
		int64(c.ttl/time.Millisecond),
	).Int64Slice()
	if err != nil {
		return entitlement.Result{}, fmt.Errorf("allowance/redisguest: consume: %w", err)
	}
	if len(res) != 2 {
		return entitlement.Result{}, errors.New("allowance/redisguest: consume: invalid script response")
	}

	var out entitlement.Result
	if res[0] == 1 {
		out = entitlement.Granted(c.allowance - int(res[1]))
	} else {
		out = entitlement.Denied(entitlement.ReasonGuestQuotaExhausted)
	}
	out.Guest = true
	return out, nil
}

// Remaining reports how many generations are left.
func (c *Counter) Remaining(ctx context.Context) (int, error) {
	used, err := c.client.Get(ctx, c.key).Int()
	if errors.Is(err, redis.Nil) {
		return c.allowance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("allowance/redisguest: remaining: %w", err)
	}
	if used > c.allowance {
		return 0, nil
	}
	return c.allowance - used, nil
}

// Refund gives back one generation, capped at the allowance.
func (c *Counter) Refund(ctx context.Context) error {
	if err := c.refund.Run(ctx, c.client, []string{c.key}).Err(); err != nil {
		return fmt.Errorf("allowance/redisguest: refund: %w", err)
	}
	return nil
}

// Reset restores the full allowance.
func (c *Counter) Reset(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
