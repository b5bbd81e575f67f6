package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace_back_end/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisCartStore garde le panier sérialisé sous cart:{user_id} et publie
// "updated"/"cleared" sur le canal du même nom pour la synchro temps réel.
type RedisCartStore struct {
	rdb *redis.Client
}

func NewRedisCartStore(rdb *redis.Client) *RedisCartStore {
	return &RedisCartStore{rdb: rdb}
}

func (s *RedisCartStore) Get(ctx context.Context, userID string) ([]models.CartItem, error) {
	data, err := s.rdb.Get(ctx, cartKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lecture panier: %w", err)
	}

	var items []models.CartItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("décodage panier: %w", err)
	}
	return items, nil
}

func (s *RedisCartStore) Save(ctx context.Context, userID string, items []models.CartItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, cartKey(userID), data, TTLCart).Err(); err != nil {
		return fmt.Errorf("écriture panier: %w", err)
	}
	s.rdb.Publish(ctx, cartKey(userID), "updated")
	return nil
}

func (s *RedisCartStore) Clear(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("suppression panier: %w", err)
	}
	s.rdb.Publish(ctx, cartKey(userID), "cleared")
	return nil
}
