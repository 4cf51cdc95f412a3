package authn

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist is a short-lived negative cache of revoked token jtis, backed by
// Redis so revocation is visible to every service instance the instant it
// commits (§5's logout-before-validate ordering guarantee). Each entry
// expires after the TTL its caller passes: the token's remaining lifetime
// for Service.Revoke and refresh rotation, a fixed 24h for EndSession and
// EndAllUserSessions.
type Blacklist struct {
	rdb *redis.Client
}

func NewBlacklist(rdb *redis.Client) *Blacklist {
	return &Blacklist{rdb: rdb}
}

func blacklistKey(jti string) string { return "revoked:" + jti }

// Revoke marks jti revoked until ttl elapses. A zero or negative ttl still
// writes a short-lived tombstone so an already-expired token's jti is
// harmlessly recorded rather than rejected.
func (b *Blacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return b.rdb.Set(ctx, blacklistKey(jti), "1", ttl).Err()
}

func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
