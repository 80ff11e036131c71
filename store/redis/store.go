// Package redis implements store.Store on Redis. Each record is a hash,
// the pending purchase is a JSON string and the current session is a plain
// string key. The decrement runs as a Lua script so it is a single atomic
// step even when several engine processes share one Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "allowance:"

// Hash fields of a record.
const (
	fieldIdentityID  = "identity_id"
	fieldTierID      = "tier_id"
	fieldRemaining   = "generations_remaining"
	fieldDisplayName = "display_name"
	fieldEmail       = "email"
	fieldAvatarRef   = "avatar_ref"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// decrementScript returns {status, HGETALL} where status is -1 for a
// missing record, 0 when nothing was left and 1 after a decrement.
const decrementScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, {}}
end
local remaining = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
if remaining > 0 then
  redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
  redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
  return {1, redis.call("HGETALL", KEYS[1])}
end
return {0, redis.call("HGETALL", KEYS[1])}
`

// Store implements store.Store using go-redis.
type Store struct {
	client    goredis.UniversalClient
	prefix    string
	decrement *goredis.Script
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Store on an existing client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultPrefix,
		decrement: goredis.NewScript(decrementScript),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("allowance/redis: invalid redis URL: %w", err)
	}
	ropts.DialTimeout = 5 * time.Second
	ropts.ReadTimeout = 3 * time.Second
	ropts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("allowance/redis: connect: %w", err)
	}
	return New(client, opts...), nil
}

// Client returns the underlying client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

func (s *Store) recordKey(identityID string) string  { return s.prefix + "record:" + identityID }
func (s *Store) pendingKey(identityID string) string { return s.prefix + "pending:" + identityID }
func (s *Store) sessionKey() string                  { return s.prefix + "session" }

// ==================== Entitlement Records ====================

func (s *Store) GetRecord(ctx context.Context, identityID string) (*entitlement.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("allowance/redis: get record: %w", err)
	}
	if len(fields) == 0 {
		return nil, allowance.ErrRecordNotFound
	}
	return fromHash(fields)
}

func (s *Store) PutRecord(ctx context.Context, r *entitlement.Record) error {
	key := s.recordKey(r.IdentityID)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, toHash(r))
		return nil
	})
	if err != nil {
		return fmt.Errorf("allowance/redis: put record: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, identityID string) error {
	if err := s.client.Del(ctx, s.recordKey(identityID)).Err(); err != nil {
		return fmt.Errorf("allowance/redis: delete record: %w", err)
	}
	return nil
}

func (s *Store) DecrementRecord(ctx context.Context, identityID string) (*entitlement.Record, bool, error) {
	res, err := s.decrement.Run(ctx, s.client,
		[]string{s.recordKey(identityID)},
		fieldRemaining,
		fieldUpdatedAt,
		types.Now().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("allowance/redis: decrement: %w", err)
	}
	if len(res) != 2 {
		return nil, false, errors.New("allowance/redis: decrement: invalid script response")
	}

	status, _ := res[0].(int64)
	switch status {
	case -1:
		return nil, false, allowance.ErrRecordNotFound
	case 0, 1:
	default:
		return nil, false, fmt.Errorf("allowance/redis: decrement: unexpected status %v", res[0])
	}

	flat, ok := res[1].([]interface{})
	if !ok {
		return nil, false, errors.New("allowance/redis: decrement: invalid record payload")
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}

	rec, err := fromHash(fields)
	if err != nil {
		return nil, false, err
	}
	return rec, status == 1, nil
}

// ==================== Pending Purchases ====================

func (s *Store) GetPending(ctx context.Context, identityID string) (*purchase.Pending, error) {
	data, err := s.client.Get(ctx, s.pendingKey(identityID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, allowance.ErrPendingNotFound
	} else if err != nil {
		return nil, fmt.Errorf("allowance/redis: get pending purchase: %w", err)
	}

	var p purchase.Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("allowance/redis: decode pending purchase: %w", err)
	}
	return &p, nil
}

func (s *Store) PutPending(ctx context.Context, p *purchase.Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("allowance/redis: encode pending purchase: %w", err)
	}
	if err := s.client.Set(ctx, s.pendingKey(p.IdentityID), data, 0).Err(); err != nil {
		return fmt.Errorf("allowance/redis: put pending purchase: %w", err)
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, identityID string) error {
	if err := s.client.Del(ctx, s.pendingKey(identityID)).Err(); err != nil {
		return fmt.Errorf("allowance/redis: delete pending purchase: %w", err)
	}
	return nil
}

// ==================== Session ====================

func (s *Store) CurrentSession(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.sessionKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("allowance/redis: get session: %w", err)
	}
	return v, nil
}

func (s *Store) SetCurrentSession(ctx context.Context, identityID string) error {
	if err := s.client.Set(ctx, s.sessionKey(), identityID, 0).Err(); err != nil {
		return fmt.Errorf("allowance/redis: set session: %w", err)
	}
	return nil
}

func (s *Store) ClearCurrentSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.sessionKey()).Err(); err != nil {
		return fmt.Errorf("allowance/redis: clear session: %w", err)
	}
	return nil
}

// ==================== Lifecycle ====================

// Migrate is a no-op; Redis is schemaless.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Helpers ====================

func toHash(r *entitlement.Record) map[string]interface{} {
	return map[string]interface{}{
		fieldIdentityID:  r.IdentityID,
		fieldTierID:      string(r.TierID),
		fieldRemaining:   r.GenerationsRemaining,
		fieldDisplayName: r.Profile.DisplayName,
		fieldEmail:       r.Profile.Email,
		fieldAvatarRef:   r.Profile.AvatarRef,
		fieldCreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		fieldUpdatedAt:   r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromHash(f map[string]string) (*entitlement.Record, error) {
	remaining, err := strconv.Atoi(f[fieldRemaining])
	if err != nil {
		return nil, fmt.Errorf("allowance/redis: decode %s: %w", fieldRemaining, err)
	}
	created, err := parseTime(f[fieldCreatedAt])
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(f[fieldUpdatedAt])
	if err != nil {
		return nil, err
	}

	return &entitlement.Record{
		Entity:               types.Entity{CreatedAt: created, UpdatedAt: updated},
		IdentityID:           f[fieldIdentityID],
		TierID:               tier.ID(f[fieldTierID]),
		GenerationsRemaining: remaining,
		Profile: identity.Profile{
			DisplayName: f[fieldDisplayName],
			Email:       f[fieldEmail],
			AvatarRef:   f[fieldAvatarRef],
		},
	}, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("allowance/redis: decode time: %w", err)
	}
	return t, nil
}
