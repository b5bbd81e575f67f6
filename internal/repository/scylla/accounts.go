package scylla

import (
	"context"
	"errors"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
)

// AccountRepository s'appuie sur des colonnes counter : chaque delta est atomique côté serveur.
type AccountRepository struct {
	session *gocql.Session
}

func NewAccountRepository(session *gocql.Session) *AccountRepository {
	return &AccountRepository{session: session}
}

func (r *AccountRepository) AddBuyer(ctx context.Context, buyerID string, orders int, spent decimal.Decimal) error {
	return r.session.Query(`
		UPDATE buyer_stats SET order_count = order_count + ?, spent_cents = spent_cents + ? WHERE buyer_id = ?`,
		int64(orders), money.ToMinor(spent), buyerID,
	).WithContext(ctx).Exec()
}

func (r *AccountRepository) AddSeller(ctx context.Context, sellerID string, sales int, revenue decimal.Decimal) error {
	return r.session.Query(`
		UPDATE seller_stats SET total_sales = total_sales + ?, revenue_cents = revenue_cents + ? WHERE seller_id = ?`,
		int64(sales), money.ToMinor(revenue), sellerID,
	).WithContext(ctx).Exec()
}

func (r *AccountRepository) Buyer(ctx context.Context, buyerID string) (models.BuyerStats, error) {
	s := models.BuyerStats{BuyerID: buyerID}
	var cents int64
	err := r.session.Query(`SELECT order_count, spent_cents FROM buyer_stats WHERE buyer_id = ?`, buyerID).
		WithContext(ctx).Scan(&s.OrderCount, &cents)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return s, err
	}
	s.TotalSpent = money.FromMinor(cents)
	return s, nil
}

func (r *AccountRepository) Seller(ctx context.Context, sellerID string) (models.SellerStats, error) {
	s := models.SellerStats{SellerID: sellerID}
	var cents int64
	err := r.session.Query(`SELECT total_sales, revenue_cents FROM seller_stats WHERE seller_id = ?`, sellerID).
		WithContext(ctx).Scan(&s.TotalSales, &cents)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return s, err
	}
	s.TotalRevenue = money.FromMinor(cents)
	return s, nil
}
