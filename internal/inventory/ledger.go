// Package inventory applique les réservations et libérations de stock ligne par ligne.
//
// Chaque mutation est un compare-and-swap sur (stock, sold) : on relit le
// produit et on réessaie tant qu'un autre écrivain a bougé les compteurs.
// Reserve refuse si stock < quantité, le stock ne passe donc jamais sous zéro.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrInsufficientStock = errors.New("Stock insuffisant")
	ErrProductNotFound   = errors.New("Produit introuvable")
	ErrContention        = errors.New("Stock trop sollicité, réessayez")
)

const defaultMaxAttempts = 8

type Ledger struct {
	products    repository.ProductRepository
	metrics     *metrics.Metrics
	log         *zap.Logger
	maxAttempts int
	now         func() time.Time
}

func NewLedger(products repository.ProductRepository, m *metrics.Metrics, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		products:    products,
		metrics:     m,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reserve : stock -= qty, sold += qty.
func (l *Ledger) Reserve(ctx context.Context, orderID, productID string, qty int) (models.StockMovement, error) {
	return l.apply(ctx, models.MovementReserve, orderID, productID, qty, func(p *models.Product) (int, int, error) {
		if p.Stock < qty {
			return 0, 0, apperr.Rulef(ErrInsufficientStock,
				fmt.Sprintf("Stock insuffisant pour %s (disponible: %d, demandé: %d)", p.Name, p.Stock, qty))
		}
		return p.Stock - qty, p.Sold + qty, nil
	})
}

// Release est l'inverse exact de Reserve.
func (l *Ledger) Release(ctx context.Context, orderID, productID string, qty int) (models.StockMovement, error) {
	return l.apply(ctx, models.MovementRelease, orderID, productID, qty, func(p *models.Product) (int, int, error) {
		sold := p.Sold - qty
		if sold < 0 {
			l.log.Warn("⚠️ Compteur sold incohérent, plancher à 0",
				zap.String("product_id", p.ID), zap.Int("sold", p.Sold), zap.Int("quantity", qty))
			sold = 0
		}
		return p.Stock + qty, sold, nil
	})
}

func (l *Ledger) apply(ctx context.Context, op models.StockMovementType, orderID, productID string, qty int,
	next func(p *models.Product) (stock, sold int, err error)) (models.StockMovement, error) {

	mv := models.StockMovement{ProductID: productID, OrderID: orderID, Type: op, Quantity: qty}
	if qty <= 0 {
		return mv, apperr.Validation(fmt.Sprintf("Quantité invalide pour %s: %d", productID, qty))
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return mv, err
		}

		p, err := l.products.Get(ctx, productID)
		if errors.Is(err, repository.ErrNotFound) {
			l.metrics.InventoryMutation(string(op), "not_found")
			return mv, apperr.Wrap(apperr.KindNotFound, "Produit introuvable: "+productID, ErrProductNotFound)
		}
		if err != nil {
			l.metrics.InventoryMutation(string(op), "error")
			return mv, fmt.Errorf("lecture produit %s: %w", productID, err)
		}

		stock, sold, err := next(p)
		if err != nil {
			l.metrics.InventoryMutation(string(op), "rejected")
			return mv, err
		}

		ok, err := l.products.CompareAndSetStock(ctx, productID, p.Stock, p.Sold, stock, sold)
		if err != nil {
			l.metrics.InventoryMutation(string(op), "error")
			return mv, err
		}
		if ok {
			mv.PrevStock, mv.NewStock = p.Stock, stock
			mv.PrevSold, mv.NewSold = p.Sold, sold
			mv.Attempts = attempt
			mv.CreatedAt = l.now()
			l.metrics.InventoryMutation(string(op), "ok")
			return mv, nil
		}
		l.log.Debug("🔁 Conflit CAS sur le stock, nouvelle tentative",
			zap.String("product_id", productID), zap.Int("attempt", attempt))
	}

	l.metrics.InventoryMutation(string(op), "contention")
	return mv, apperr.Rule(ErrContention)
}

// ReserveItems réserve chaque ligne indépendamment et marque Reserved.
// Un produit absent est journalisé puis ignoré. Tout autre échec libère les
// lignes déjà réservées et fait échouer l'ensemble.
func (l *Ledger) ReserveItems(ctx context.Context, orderID string, items []models.OrderItem) error {
	for i := range items {
		it := &items[i]
		mv, err := l.Reserve(ctx, orderID, it.ProductID, it.Quantity)
		if errors.Is(err, ErrProductNotFound) {
			l.log.Warn("⚠️ Produit absent, réservation ignorée",
				zap.String("order_id", orderID), zap.String("product_id", it.ProductID))
			continue
		}
		if err != nil {
			if relErr := l.ReleaseItems(ctx, orderID, items[:i]); relErr != nil {
				l.log.Error("❌ Compensation partielle du stock", zap.String("order_id", orderID), zap.Error(relErr))
			}
			return err
		}
		it.Reserved = true
		l.log.Info("📦 Stock réservé", zap.String("order_id", orderID), zap.String("product_id", it.ProductID),
			zap.Int("prev_stock", mv.PrevStock), zap.Int("new_stock", mv.NewStock))
	}
	return nil
}

// ReleaseItems libère toutes les lignes marquées Reserved, en continuant malgré
// les erreurs. Les lignes libérées repassent à Reserved=false.
func (l *Ledger) ReleaseItems(ctx context.Context, orderID string, items []models.OrderItem) error {
	var errs []error
	for i := range items {
		it := &items[i]
		if !it.Reserved {
			continue
		}
		mv, err := l.Release(ctx, orderID, it.ProductID, it.Quantity)
		if err != nil {
			l.log.Error("❌ Libération de stock échouée", zap.String("order_id", orderID),
				zap.String("product_id", it.ProductID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", it.ProductID, err))
			continue
		}
		it.Reserved = false
		l.log.Info("📦 Stock libéré", zap.String("order_id", orderID), zap.String("product_id", it.ProductID),
			zap.Int("prev_stock", mv.PrevStock), zap.Int("new_stock", mv.NewStock))
	}
	return errors.Join(errs...)
}
