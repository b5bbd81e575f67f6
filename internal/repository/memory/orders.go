// Package memory fournit des dépôts en mémoire, utilisés par les tests et STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"
)

type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	byPayment map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]*models.Order),
		byPayment: make(map[string]string),
	}
}

func (r *OrderRepository) Create(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return repository.ErrAlreadyExists
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Update(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != o.Version {
		return repository.ErrVersionConflict
	}
	o.Version++
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) IndexPaymentReference(_ context.Context, gateway, reference, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPayment[gateway+"|"+reference] = orderID
	return nil
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, gateway, reference string) (*models.Order, error) {
	r.mu.RLock()
	id, ok := r.byPayment[gateway+"|"+reference]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *OrderRepository) ListByBuyer(_ context.Context, buyerID string) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Order
	for _, o := range r.orders {
		if o.BuyerID == buyerID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) CountByBuyer(ctx context.Context, buyerID string) (int, error) {
	orders, err := r.ListByBuyer(ctx, buyerID)
	return len(orders), err
}

func (r *OrderRepository) CountCouponUses(ctx context.Context, buyerID, code string) (int, error) {
	orders, err := r.ListByBuyer(ctx, buyerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range orders {
		if o.Coupon != nil && o.Coupon.Code == models.NormalizeCouponCode(code) {
			n++
		}
	}
	return n, nil
}
