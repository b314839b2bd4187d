package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrWindow bumps the counter and arms the expiry on the first hit of a window.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window limiter shared by every process using the same Redis.
type Redis struct {
	Client redis.Scripter
	Prefix string
	Rule   Rule
}

func NewRedis(client redis.Scripter, prefix string, rule Rule) *Redis {
	return &Redis{Client: client, Prefix: prefix, Rule: rule}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if !r.Rule.enabled() {
		return true, nil
	}
	n, err := incrWindow.Run(ctx, r.Client, []string{r.key(key)}, r.Rule.Window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	return n <= int64(r.Rule.Limit), nil
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("%sratelimit:%s", r.Prefix, key)
}
