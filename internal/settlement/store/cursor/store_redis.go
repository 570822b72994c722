package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const cursorKey = "remitgate:settlement:event_cursor"

// RedisStore persists the relay cursor so a restart resumes where it stopped.
type RedisStore struct {
	client redis.Cmdable
	from   uint64
}

// NewRedis returns a store that reports from until a cursor has been saved.
func NewRedis(client redis.Cmdable, from uint64) *RedisStore {
	return &RedisStore{client: client, from: from}
}

func (s *RedisStore) Load(ctx context.Context) (uint64, error) {
	v, err := s.client.Get(ctx, cursorKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return s.from, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load event cursor: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, cursor uint64) error {
	if err := s.client.Set(ctx, cursorKey, cursor, 0).Err(); err != nil {
		return fmt.Errorf("save event cursor: %w", err)
	}
	return nil
}
