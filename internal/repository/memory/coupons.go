package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"
)

type CouponRepository struct {
	mu      sync.RWMutex
	coupons map[string]models.Coupon
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{coupons: make(map[string]models.Coupon)}
}

func (r *CouponRepository) Create(_ context.Context, c *models.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := models.NormalizeCouponCode(c.Code)
	if _, ok := r.coupons[code]; ok {
		return repository.ErrAlreadyExists
	}
	cp := *c
	cp.Code = code
	r.coupons[code] = cp
	return nil
}

func (r *CouponRepository) GetByCode(_ context.Context, code string) (*models.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coupons[models.NormalizeCouponCode(code)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *CouponRepository) CompareAndSetUsage(_ context.Context, code string, prev, next int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code = models.NormalizeCouponCode(code)
	c, ok := r.coupons[code]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.UsageCount != prev {
		return false, nil
	}
	c.UsageCount = next
	r.coupons[code] = c
	return true, nil
}
