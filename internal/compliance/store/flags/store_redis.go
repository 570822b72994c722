package flags

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
)

const flagKeyPrefix = "remitgate:flagged:"

// RedisStore keeps one SET per role so membership is a single SISMEMBER.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func flagKey(role models.Role) string {
	return flagKeyPrefix + string(role)
}

func (s *RedisStore) IsFlagged(ctx context.Context, role models.Role, addr id.Address) (bool, error) {
	ok, err := s.client.SIsMember(ctx, flagKey(role), addr.Lower()).Result()
	if err != nil {
		return false, fmt.Errorf("check flagged %s: %w", role, err)
	}
	return ok, nil
}

// Flag adds addr to the role set. Reasons are not kept in Redis.
func (s *RedisStore) Flag(ctx context.Context, role models.Role, addr id.Address, _ string) error {
	if err := s.client.SAdd(ctx, flagKey(role), addr.Lower()).Err(); err != nil {
		return fmt.Errorf("flag %s: %w", role, err)
	}
	return nil
}

func (s *RedisStore) Unflag(ctx context.Context, role models.Role, addr id.Address) error {
	if err := s.client.SRem(ctx, flagKey(role), addr.Lower()).Err(); err != nil {
		return fmt.Errorf("unflag %s: %w", role, err)
	}
	return nil
}

// Seed bulk-loads addresses for role.
func (s *RedisStore) Seed(ctx context.Context, role models.Role, addrs ...string) error {
	if len(addrs) == 0 {
		return nil
	}
	members := make([]any, 0, len(addrs))
	for _, a := range addrs {
		members = append(members, id.Address(a).Lower())
	}
	if err := s.client.SAdd(ctx, flagKey(role), members...).Err(); err != nil {
		return fmt.Errorf("seed flagged %s: %w", role, err)
	}
	return nil
}
