package models

import "github.com/shopspring/decimal"

type BuyerStats struct {
	BuyerID    string          `json:"buyer_id"`
	OrderCount int64           `json:"order_count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

type SellerStats struct {
	SellerID     string          `json:"seller_id"`
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// SellerDelta est la contribution d'une commande aux compteurs d'un vendeur.
type SellerDelta struct {
	Sales   int
	Revenue decimal.Decimal
}
