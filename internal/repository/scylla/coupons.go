package scylla

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"

	"github.com/gocql/gocql"
)

type CouponRepository struct {
	session *gocql.Session
}

func NewCouponRepository(session *gocql.Session) *CouponRepository {
	return &CouponRepository{session: session}
}

func (r *CouponRepository) Create(ctx context.Context, c *models.Coupon) error {
	c.Code = models.NormalizeCouponCode(c.Code)
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	applied, err := r.session.Query(`
		INSERT INTO coupons (code, data, usage_count, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		c.Code, string(data), c.UsageCount, c.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("insertion coupon: %w", err)
	}
	if !applied {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var data string
	var usage int
	err := r.session.Query(`SELECT data, usage_count FROM coupons WHERE code = ?`, models.NormalizeCouponCode(code)).
		WithContext(ctx).
		Scan(&data, &usage)
	if err != nil {
		return nil, notFound(err)
	}

	var c models.Coupon
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("décodage coupon: %w", err)
	}
	c.UsageCount = usage
	return &c, nil
}

func (r *CouponRepository) CompareAndSetUsage(ctx context.Context, code string, prev, next int) (bool, error) {
	applied, err := r.session.Query(`UPDATE coupons SET usage_count = ? WHERE code = ? IF usage_count = ?`,
		next, models.NormalizeCouponCode(code), prev,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("CAS usage coupon: %w", err)
	}
	return applied, nil
}
