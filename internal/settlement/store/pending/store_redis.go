package pending

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"remitgate/internal/settlement/models"
)

const pendingKey = "remitgate:settlement:pending"

// RedisStore keeps pending submissions in one hash keyed by submission ref.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, p models.Pending) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending submission: %w", err)
	}
	if err := s.client.HSet(ctx, pendingKey, p.Ref, raw).Err(); err != nil {
		return fmt.Errorf("save pending submission %s: %w", p.Ref, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.Pending, error) {
	values, err := s.client.HGetAll(ctx, pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	out := make([]models.Pending, 0, len(values))
	for ref, raw := range values {
		var p models.Pending
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode pending submission %s: %w", ref, err)
		}
		out = append(out, p)
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.HDel(ctx, pendingKey, ref).Err(); err != nil {
		return fmt.Errorf("delete pending submission %s: %w", ref, err)
	}
	return nil
}
