package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// idemPending est la valeur d'une clé réservée dont le checkout n'a pas abouti.
const idemPending = "pending"

// RedisIdempotency associe une clé Idempotency-Key de checkout à la commande créée.
type RedisIdempotency struct {
	rdb *redis.Client
}

func NewRedisIdempotency(rdb *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{rdb: rdb}
}

func idemKey(userID, key string) string { return fmt.Sprintf(KeyIdemCheckout, userID, key) }

// Claim pose la clé avec SETNX. Perdu : on relit la valeur en place
// ("" si le premier checkout est encore en cours).
func (s *RedisIdempotency) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	k := idemKey(userID, key)
	ok, err := s.rdb.SetNX(ctx, k, idemPending, TTLIdempotency).Result()
	if err != nil {
		return "", false, fmt.Errorf("réservation clé d'idempotence: %w", err)
	}
	if ok {
		return "", true, nil
	}

	orderID, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Clé libérée entre SETNX et GET : le client peut réessayer.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lecture clé d'idempotence: %w", err)
	}
	if orderID == idemPending {
		orderID = ""
	}
	return orderID, false, nil
}

func (s *RedisIdempotency) Remember(ctx context.Context, userID, key, orderID string) error {
	return s.rdb.Set(ctx, idemKey(userID, key), orderID, TTLIdempotency).Err()
}

func (s *RedisIdempotency) Forget(ctx context.Context, userID, key string) error {
	return s.rdb.Del(ctx, idemKey(userID, key)).Err()
}
