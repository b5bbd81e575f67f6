package models

import "time"

// ProcessedEvent est une entrée du registre des événements passerelle déjà traités.
type ProcessedEvent struct {
	Gateway     string    `json:"gateway"`
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id,omitempty"`
	Outcome     string    `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}
