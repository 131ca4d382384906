package limiters

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments a fixed-window counter and arms its expiry on the
// first hit in the same round trip, so a counter never exists without a
// TTL.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func hit(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (int64, error) {
	return hitScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64()
}
