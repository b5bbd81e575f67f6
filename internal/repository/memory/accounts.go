package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"

	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	mu      sync.Mutex
	buyers  map[string]models.BuyerStats
	sellers map[string]models.SellerStats
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		buyers:  make(map[string]models.BuyerStats),
		sellers: make(map[string]models.SellerStats),
	}
}

func (r *AccountRepository) AddBuyer(_ context.Context, buyerID string, orders int, spent decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.buyers[buyerID]
	s.BuyerID = buyerID
	s.OrderCount += int64(orders)
	s.TotalSpent = s.TotalSpent.Add(spent)
	r.buyers[buyerID] = s
	return nil
}

func (r *AccountRepository) AddSeller(_ context.Context, sellerID string, sales int, revenue decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sellers[sellerID]
	s.SellerID = sellerID
	s.TotalSales += int64(sales)
	s.TotalRevenue = s.TotalRevenue.Add(revenue)
	r.sellers[sellerID] = s
	return nil
}

func (r *AccountRepository) Buyer(_ context.Context, buyerID string) (models.BuyerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.buyers[buyerID]
	s.BuyerID = buyerID
	return s, nil
}

func (r *AccountRepository) Seller(_ context.Context, sellerID string) (models.SellerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sellers[sellerID]
	s.SellerID = sellerID
	return s, nil
}
