package models

import "github.com/shopspring/decimal"

// Product ne garde que les champs utiles au checkout et au ledger.
type Product struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"seller_id"`
	CategoryID string          `json:"category_id"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"image_url,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	Sold       int             `json:"sold"`
	IsActive   bool            `json:"is_active"`
}
