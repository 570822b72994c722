package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/ports"
	id "remitgate/pkg/domain"
)

const (
	profileKeyPrefix    = "remitgate:profile:"
	generationKeyPrefix = "remitgate:profile-gen:"
)

// fillIfCurrent caches a profile only while the identity's generation still
// matches the one read before the backing lookup.
var fillIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Repository is the read and write surface the cache wraps.
type Repository interface {
	ports.ProfileRepository
	ports.ProfileWriter
}

// RedisCache is a read-through cache in front of a Repository. Misses are
// not cached so a newly onboarded identity is visible immediately. Cache
// errors degrade to the backing repository.
//
// Every Upsert bumps a per-identity generation. A Lookup fills the cache only
// if the generation it read before querying the repository is unchanged, so a
// fill racing an Upsert cannot restore the superseded profile.
type RedisCache struct {
	next   Repository
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(next Repository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{next: next, client: client, ttl: ttl, logger: logger}
}

func profileKey(identity id.Address) string {
	return profileKeyPrefix + identity.Lower()
}

func generationKey(identity id.Address) string {
	return generationKeyPrefix + identity.Lower()
}

func (c *RedisCache) Lookup(ctx context.Context, identity id.Address) (*models.Profile, error) {
	raw, err := c.client.Get(ctx, profileKey(identity)).Bytes()
	switch {
	case err == nil:
		var p models.Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.warn(ctx, "profile cache read failed", identity, err)
	}

	gen, genErr := c.client.Get(ctx, generationKey(identity)).Result()
	switch {
	case errors.Is(genErr, redis.Nil):
		gen, genErr = "0", nil
	case genErr != nil:
		c.warn(ctx, "profile generation read failed", identity, genErr)
	}

	p, err := c.next.Lookup(ctx, identity)
	if err != nil {
		return nil, err
	}
	if genErr == nil && c.ttl > 0 {
		c.fill(ctx, p, gen)
	}
	return p, nil
}

func (c *RedisCache) fill(ctx context.Context, p *models.Profile, gen string) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	keys := []string{generationKey(p.Identity), profileKey(p.Identity)}
	if err := fillIfCurrent.Run(ctx, c.client, keys, gen, payload, c.ttl.Milliseconds()).Err(); err != nil {
		c.warn(ctx, "profile cache write failed", p.Identity, err)
	}
}

// Upsert writes through, bumps the identity's generation and drops the cached
// copy. The write has already landed when invalidation fails, so that failure
// is logged rather than returned; the TTL bounds how long the old copy lives.
func (c *RedisCache) Upsert(ctx context.Context, profile *models.Profile) error {
	if err := c.next.Upsert(ctx, profile); err != nil {
		return err
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(profile.Identity))
		pipe.Del(ctx, profileKey(profile.Identity))
		return nil
	})
	if err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "profile cache invalidation failed",
			"identity", profile.Identity, "error", err)
	}
	return nil
}

func (c *RedisCache) warn(ctx context.Context, msg string, identity id.Address, err error) {
	if c.logger != nil {
		c.logger.WarnContext(ctx, msg, "identity", identity, "error", err)
	}
}
