package scylla

import (
	"context"
	"fmt"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"

	"github.com/gocql/gocql"
)

type ProductRepository struct {
	session *gocql.Session
}

func NewProductRepository(session *gocql.Session) *ProductRepository {
	return &ProductRepository{session: session}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	uid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	p := models.Product{ID: id}
	var priceCents int64
	err = r.session.Query(`
		SELECT seller_id, category_id, name, image_url, price_cents, stock, sold, is_active
		FROM products WHERE product_id = ?`, uid).
		WithContext(ctx).
		Scan(&p.SellerID, &p.CategoryID, &p.Name, &p.ImageURL, &priceCents, &p.Stock, &p.Sold, &p.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	p.Price = money.FromMinor(priceCents)
	return &p, nil
}

func (r *ProductRepository) CompareAndSetStock(ctx context.Context, id string, prevStock, prevSold, stock, sold int) (bool, error) {
	uid, err := parseUUID(id)
	if err != nil {
		return false, err
	}
	applied, err := r.session.Query(`
		UPDATE products SET stock = ?, sold = ? WHERE product_id = ? IF stock = ? AND sold = ?`,
		stock, sold, uid, prevStock, prevSold,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("CAS stock %s: %w", id, err)
	}
	return applied, nil
}
