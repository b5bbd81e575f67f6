package models

import "time"

// TimelineEntry est une ligne du journal append-only d'une commande.
type TimelineEntry struct {
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	Description string      `json:"description"`
	Actor       string      `json:"actor"`
	CreatedAt   time.Time   `json:"created_at"`
}
