// Package claim leases queue keys so that several consumer instances never
// dispatch the same entry. A key must be claimed before it is read; the claim
// is released once the entry has been deleted.
package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer grants exclusive, time-limited ownership of a key.
type Claimer interface {
	// Claim returns true if this process now owns key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release gives up ownership. Releasing a claim owned by someone else, or
	// one that already expired, is a no-op.
	Release(ctx context.Context, key string) error
}

// Nop grants every claim. It is correct only when a single consumer runs.
type Nop struct{}

func (Nop) Claim(context.Context, string) (bool, error) { return true, nil }
func (Nop) Release(context.Context, string) error       { return nil }

const DefaultPrefix = "widget-consumer:claim:"

// Deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis claims keys with SET NX PX. The TTL bounds how long a crashed
// consumer can hold a key; it must exceed the time to read and delete one entry.
type Redis struct {
	client redisAPI
	prefix string
	ttl    time.Duration
	owner  string
}

func NewRedis(client redisAPI, prefix string, ttl time.Duration) *Redis {
	if client == nil {
		panic("redis client is required")
	}
	if ttl <= 0 {
		panic("claim ttl must be positive")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

// Owner is the token stored in claimed keys.
func (r *Redis) Owner() string { return r.owner }

func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim key=%q: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	err := r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, r.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release claim key=%q: %w", key, err)
	}
	return nil
}

// Dial parses a redis URL and pings the server.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	return client, nil
}
