package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// Terminal : plus aucune transition de cycle de vie hors remboursement d'une commande livrée.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderRefunded
}

// Order est l'agrégat racine d'un achat.
type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	BuyerEmail      string          `json:"buyer_email"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	ShippingMethod  string          `json:"shipping_method"`
	Payment         PaymentInfo     `json:"payment"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Coupon          *AppliedCoupon  `json:"coupon,omitempty"`
	Status          OrderStatus     `json:"status"`

	TrackingNumber     string           `json:"tracking_number,omitempty"`
	Carrier            string           `json:"carrier,omitempty"`
	ShippedAt          *time.Time       `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	RefundedAt         *time.Time       `json:"refunded_at,omitempty"`
	RefundAmount       *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundReason       string           `json:"refund_reason,omitempty"`

	// RefundRequestedAt marque un remboursement passerelle en cours pour cette commande.
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`

	// InventoryReleased passe à true dans la même écriture versionnée que
	// l'annulation; seul le gagnant de cette écriture relâche le stock.
	InventoryReleased bool `json:"inventory_released"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItem struct {
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	CategoryID string          `json:"category_id,omitempty"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"image_url,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	// Reserved indique que le ledger a bien décrémenté le stock pour cette ligne.
	Reserved bool `json:"reserved"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// AppliedCoupon est l'instantané du coupon au moment de la commande.
type AppliedCoupon struct {
	Code     string          `json:"code"`
	Type     DiscountType    `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Discount decimal.Decimal `json:"discount"`
}

// Recalculate recalcule sous-total et total à partir des lignes.
// Appelé avant chaque écriture pour que les totaux stockés ne dérivent jamais.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	o.Subtotal = subtotal.Round(2)
	o.Total = o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount).Round(2)
}

// SellerIDs retourne les vendeurs distincts, dans l'ordre d'apparition.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var ids []string
	for _, it := range o.Items {
		if it.SellerID == "" || seen[it.SellerID] {
			continue
		}
		seen[it.SellerID] = true
		ids = append(ids, it.SellerID)
	}
	return ids
}

func (o *Order) HasSeller(sellerID string) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

// SellerTotals regroupe quantités et montants par vendeur.
func (o *Order) SellerTotals() map[string]SellerDelta {
	out := make(map[string]SellerDelta)
	for _, it := range o.Items {
		d := out[it.SellerID]
		d.Sales += it.Quantity
		d.Revenue = d.Revenue.Add(it.LineTotal())
		out[it.SellerID] = d
	}
	return out
}

// Clone copie profondément la commande (les dépôts mémoire ne partagent jamais leurs pointeurs).
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.Coupon != nil {
		c := *o.Coupon
		cp.Coupon = &c
	}
	if o.RefundAmount != nil {
		r := *o.RefundAmount
		cp.RefundAmount = &r
	}
	cp.ShippedAt = cloneTime(o.ShippedAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	cp.RefundedAt = cloneTime(o.RefundedAt)
	cp.RefundRequestedAt = cloneTime(o.RefundRequestedAt)
	cp.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
