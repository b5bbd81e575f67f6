package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)

var paymentRank = map[PaymentStatus]int{
	PaymentPending:           0,
	PaymentFailed:            1,
	PaymentCompleted:         2,
	PaymentPartiallyRefunded: 3,
	PaymentRefunded:          4,
}

// Supersedes indique si next peut remplacer s. Un statut ne recule jamais :
// un succès rejoué après un remboursement reste sans effet.
func (s PaymentStatus) Supersedes(next PaymentStatus) bool {
	return paymentRank[next] > paymentRank[s]
}

// Settled : l'argent a été capturé à un moment donné.
func (s PaymentStatus) Settled() bool {
	return paymentRank[s] >= paymentRank[PaymentCompleted]
}

const (
	GatewayStripe   = "stripe"
	GatewayRazorpay = "razorpay"
)

// PaymentInfo est le sous-document paiement porté par la commande.
type PaymentInfo struct {
	Gateway          string          `json:"gateway"`
	Reference        string          `json:"reference,omitempty"` // PaymentIntent Stripe ou order Razorpay
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Status           PaymentStatus   `json:"status"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	AmountRefunded   decimal.Decimal `json:"amount_refunded"`
}

// Payment est l'enregistrement d'une transaction vérifiée auprès de la passerelle.
type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Gateway          string          `json:"gateway"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	Raw              string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
