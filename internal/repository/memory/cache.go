package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"
)

// CartStore remplace le panier Redis.
type CartStore struct {
	mu    sync.Mutex
	carts map[string][]models.CartItem
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string][]models.CartItem)}
}

func (s *CartStore) Get(_ context.Context, userID string) ([]models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartItem(nil), s.carts[userID]...), nil
}

func (s *CartStore) Save(_ context.Context, userID string, items []models.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = append([]models.CartItem(nil), items...)
	return nil
}

func (s *CartStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

// Idempotency remplace le stockage Redis des clés Idempotency-Key.
// Une clé réservée sans commande vaut "".
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewIdempotency() *Idempotency {
	return &Idempotency{keys: make(map[string]string)}
}

func (s *Idempotency) Claim(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.keys[userID+"|"+key]; ok {
		return id, false, nil
	}
	s.keys[userID+"|"+key] = ""
	return "", true, nil
}

func (s *Idempotency) Remember(_ context.Context, userID, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[userID+"|"+key] = orderID
	return nil
}

func (s *Idempotency) Forget(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, userID+"|"+key)
	return nil
}
