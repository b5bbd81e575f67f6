package models

import "time"

type StockMovementType string

const (
	MovementReserve StockMovementType = "reserve"
	MovementRelease StockMovementType = "release"
)

// StockMovement décrit une mutation appliquée par le ledger.
type StockMovement struct {
	ProductID string            `json:"product_id"`
	OrderID   string            `json:"order_id,omitempty"`
	Type      StockMovementType `json:"type"`
	Quantity  int               `json:"quantity"`
	PrevStock int               `json:"prev_stock"`
	NewStock  int               `json:"new_stock"`
	PrevSold  int               `json:"prev_sold"`
	NewSold   int               `json:"new_sold"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
}
