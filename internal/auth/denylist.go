// ABOUTME: Revoked-token lookup backed by redis
// ABOUTME: A token is revoked while the key "blacklist_<token>" exists

package auth

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const denylistPrefix = "blacklist_"

// Revoker denylists tokens until they would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// Denylist reports whether a token was revoked before it expired.
type Denylist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisDenylist stores revoked tokens as expiring redis keys.
type RedisDenylist struct {
	client *redis.Client
}

var (
	_ Denylist = (*RedisDenylist)(nil)
	_ Revoker  = (*RedisDenylist)(nil)
)

// NewRedisDenylist wraps a redis client.
func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

// IsRevoked checks whether the token's denylist key exists.
func (d *RedisDenylist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := d.client.Exists(ctx, denylistKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return n > 0, nil
}

// Revoke denylists the token for ttl, which should cover its remaining lifetime.
func (d *RedisDenylist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if err := d.client.Set(ctx, denylistKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist revoke: %w", err)
	}
	return nil
}

func denylistKey(token string) string {
	return denylistPrefix + token
}
