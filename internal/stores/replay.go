package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeReplayed  = errors.New("totp step already used")
	ErrReplayBackend = errors.New("replay guard backend unavailable")
)

// ReplayGuard remembers which (secret, step counter) pairs each identity has
// already spent. Entries expire once the step can no longer validate.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

func NewReplayGuard(redisClient redis.UniversalClient, prefix string) *ReplayGuard {
	if prefix == "" {
		prefix = "arp"
	}
	return &ReplayGuard{redis: redisClient, prefix: prefix}
}

// key scopes the record to the secret that matched, so a code for a newly
// pending secret is not mistaken for a replay of the active secret's code in
// the same step. Only a truncated digest of the secret reaches Redis.
func (g *ReplayGuard) key(identityID string, secret []byte, counter int64) string {
	sum := sha256.Sum256(secret)
	return g.prefix + ":" + identityID + ":" + hex.EncodeToString(sum[:8]) + ":" + strconv.FormatInt(counter, 10)
}

// MarkUsed records (identity, secret, counter) if it has not been recorded
// yet. Check and set happen in one SET NX, so concurrent submissions of the
// same code cannot both pass.
func (g *ReplayGuard) MarkUsed(ctx context.Context, identityID string, secret []byte, counter int64, ttl time.Duration) error {
	ok, err := g.redis.SetNX(ctx, g.key(identityID, secret, counter), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	if !ok {
		return ErrCodeReplayed
	}
	return nil
}

// Used reports whether (identity, secret, counter) has been recorded.
func (g *ReplayGuard) Used(ctx context.Context, identityID string, secret []byte, counter int64) (bool, error) {
	n, err := g.redis.Exists(ctx, g.key(identityID, secret, counter)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	return n > 0, nil
}
