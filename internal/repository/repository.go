// Package repository déclare les ports de persistance du moteur de commandes.
// Les implémentations vivent dans repository/scylla et repository/memory.
package repository

import (
	"context"
	"errors"

	"marketplace_back_end/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("introuvable")
	ErrVersionConflict = errors.New("conflit de version")
	ErrAlreadyExists   = errors.New("existe déjà")
)

type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	// Update écrit o si la version stockée vaut encore o.Version, puis incrémente o.Version.
	Update(ctx context.Context, o *models.Order) error
	// FindByPaymentReference cherche via l'index (passerelle, référence).
	FindByPaymentReference(ctx context.Context, gateway, reference string) (*models.Order, error)
	IndexPaymentReference(ctx context.Context, gateway, reference, orderID string) error
	ListByBuyer(ctx context.Context, buyerID string) ([]*models.Order, error)
}

// OrderHistory alimente les règles de segment et de limite par utilisateur du moteur de remise.
type OrderHistory interface {
	CountByBuyer(ctx context.Context, buyerID string) (int, error)
	CountCouponUses(ctx context.Context, buyerID, code string) (int, error)
}

type TimelineRepository interface {
	Append(ctx context.Context, e models.TimelineEntry) error
	List(ctx context.Context, orderID string) ([]models.TimelineEntry, error)
}

type ProductRepository interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	// CompareAndSetStock remplace (stock, sold) seulement si les valeurs stockées
	// valent encore (prevStock, prevSold). Retourne false si elles ont changé.
	CompareAndSetStock(ctx context.Context, id string, prevStock, prevSold, stock, sold int) (bool, error)
}

type CouponRepository interface {
	Create(ctx context.Context, c *models.Coupon) error
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	// CompareAndSetUsage fait passer usage_count de prev à next de façon atomique.
	CompareAndSetUsage(ctx context.Context, code string, prev, next int) (bool, error)
}

type PaymentRepository interface {
	// Create échoue avec ErrAlreadyExists si la transaction passerelle est déjà enregistrée.
	Create(ctx context.Context, p *models.Payment) error
	GetByGatewayPaymentID(ctx context.Context, gateway, gatewayPaymentID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, gateway, gatewayPaymentID string, status models.PaymentStatus) error
}

// AccountRepository tient les compteurs dénormalisés acheteur/vendeur.
// Les deltas peuvent être négatifs (annulation, remboursement).
type AccountRepository interface {
	AddBuyer(ctx context.Context, buyerID string, orders int, spent decimal.Decimal) error
	AddSeller(ctx context.Context, sellerID string, sales int, revenue decimal.Decimal) error
	Buyer(ctx context.Context, buyerID string) (models.BuyerStats, error)
	Seller(ctx context.Context, sellerID string) (models.SellerStats, error)
}

// EventLedger mémorise les événements passerelle déjà traités.
type EventLedger interface {
	Seen(ctx context.Context, gateway, eventID string) (bool, error)
	// MarkProcessed retourne false si l'événement était déjà enregistré.
	MarkProcessed(ctx context.Context, e models.ProcessedEvent) (bool, error)
}
