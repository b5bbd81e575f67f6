package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"
)

type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]models.Product
}

func NewProductRepository(seed ...models.Product) *ProductRepository {
	r := &ProductRepository{products: make(map[string]models.Product)}
	for _, p := range seed {
		r.products[p.ID] = p
	}
	return r
}

func (r *ProductRepository) Put(p models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *ProductRepository) Get(_ context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) CompareAndSetStock(_ context.Context, id string, prevStock, prevSold, stock, sold int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if p.Stock != prevStock || p.Sold != prevSold {
		return false, nil
	}
	p.Stock, p.Sold = stock, sold
	r.products[id] = p
	return true, nil
}
