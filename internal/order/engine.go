// Package order porte le cycle de vie des commandes : création, transitions de
// statut, effets sur le stock et les compteurs acheteur/vendeur, et les
// transitions de paiement appliquées par la réconciliation des webhooks.
//
// Toute écriture passe par mutate : relecture, modification, écriture
// conditionnée par la version. Les effets secondaires (stock, compteurs,
// timeline, notifications) ne sont lancés qu'après une écriture réussie, et
// uniquement par l'écrivain qui a réellement changé l'état.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("marketplace_back_end/internal/order")

type CartStore interface {
	Get(ctx context.Context, userID string) ([]models.CartItem, error)
	Save(ctx context.Context, userID string, items []models.CartItem) error
	Clear(ctx context.Context, userID string) error
}

// IdempotencyStore associe une clé Idempotency-Key de checkout à sa commande.
type IdempotencyStore interface {
	// Claim réserve la clé. Si elle est déjà prise, claimed vaut false et
	// orderID est la commande associée ("" tant que le checkout est en cours).
	Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error)
	// Remember associe la clé réservée à la commande créée.
	Remember(ctx context.Context, userID, key, orderID string) error
	// Forget libère la clé après un checkout en échec.
	Forget(ctx context.Context, userID, key string) error
}

type Config struct {
	Currency string
	Pricing  Pricing
}

type Deps struct {
	Orders      repository.OrderRepository
	Timeline    repository.TimelineRepository
	Products    repository.ProductRepository
	Accounts    repository.AccountRepository
	Ledger      *inventory.Ledger
	Discounts   *discount.Engine
	Gateways    *payment.Registry
	Carts       CartStore
	Idempotency IdempotencyStore
	Notifier    notify.Dispatcher
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

type Engine struct {
	orders    repository.OrderRepository
	timeline  repository.TimelineRepository
	products  repository.ProductRepository
	accounts  repository.AccountRepository
	ledger    *inventory.Ledger
	discounts *discount.Engine
	gateways  *payment.Registry
	carts     CartStore
	idem      IdempotencyStore
	notifier  notify.Dispatcher
	metrics   *metrics.Metrics
	log       *zap.Logger

	currency string
	pricing  Pricing
	now      func() time.Time
}

func NewEngine(cfg Config, d Deps) *Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Gateways == nil {
		d.Gateways = payment.NewRegistry()
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "eur"
	}
	return &Engine{
		orders:    d.Orders,
		timeline:  d.Timeline,
		products:  d.Products,
		accounts:  d.Accounts,
		ledger:    d.Ledger,
		discounts: d.Discounts,
		gateways:  d.Gateways,
		carts:     d.Carts,
		idem:      d.Idempotency,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       d.Log,
		currency:  currency,
		pricing:   cfg.Pricing,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Pricing() Pricing { return e.pricing }

const maxSaveAttempts = 5

// errUnchanged arrête mutate sans écrire : l'état stocké rend l'opération sans effet.
var errUnchanged = errors.New("commande inchangée")

// mutate relit la commande, applique fn puis écrit si la version n'a pas bougé.
// En cas de conflit, fn est rejouée sur l'état frais. Si fn échoue, la commande
// lue est retournée avec l'erreur.
func (e *Engine) mutate(ctx context.Context, id string, fn func(o *models.Order) error) (*models.Order, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		o, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(o); err != nil {
			return o, err
		}

		o.Recalculate()
		o.UpdatedAt = e.now()
		err = e.orders.Update(ctx, o)
		if errors.Is(err, repository.ErrVersionConflict) {
			e.log.Debug("🔁 Conflit de version sur la commande, nouvelle tentative",
				zap.String("order_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("écriture commande %s: %w", id, err))
		}
		return o, nil
	}
	return nil, apperr.Conflict("Commande modifiée simultanément, réessayez")
}

func (e *Engine) load(ctx context.Context, id string) (*models.Order, error) {
	o, err := e.orders.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Commande introuvable")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("lecture commande %s: %w", id, err))
	}
	return o, nil
}

// change décrit les effets à lancer après une écriture réussie.
type change struct {
	from, to     models.OrderStatus
	actor        string
	desc         string
	releaseStock bool
	// reverse est la part du total à retirer des compteurs (annulation ou remboursement).
	reverse       decimal.Decimal
	reverseOrders bool
	silent        bool
}

func (e *Engine) afterChange(ctx context.Context, o *models.Order, ch change) {
	if ch.from != ch.to {
		e.metrics.OrderTransition(string(ch.from), string(ch.to))
		e.log.Info("✅ Statut de commande mis à jour",
			zap.String("order_id", o.ID),
			zap.String("from", string(ch.from)),
			zap.String("to", string(ch.to)),
			zap.String("actor", ch.actor))
	}

	if ch.releaseStock {
		if err := e.ledger.ReleaseItems(ctx, o.ID, o.Items); err != nil {
			e.log.Error("❌ Libération du stock incomplète", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if ch.reverse.IsPositive() {
		e.reverseAggregates(ctx, o, ch.reverse, ch.reverseOrders)
	}

	e.record(ctx, o, ch.actor, ch.desc)
	if ch.silent {
		return
	}
	amount := o.Total
	if !ch.releaseStock && ch.reverse.IsPositive() {
		amount = ch.reverse
	}
	e.publish(ctx, o, notify.OrderUpdated, ch.desc, amount)
}

// record ajoute une ligne à la timeline. Best effort.
func (e *Engine) record(ctx context.Context, o *models.Order, actor, desc string) {
	entry := models.TimelineEntry{
		OrderID:     o.ID,
		Status:      o.Status,
		Description: desc,
		Actor:       actor,
		CreatedAt:   e.now(),
	}
	if err := e.timeline.Append(ctx, entry); err != nil {
		e.log.Warn("⚠️ Timeline non mise à jour", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, o *models.Order, typ notify.EventType, msg string, amount decimal.Decimal) {
	e.notifier.Dispatch(ctx, notify.Event{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerID:     o.BuyerID,
		BuyerEmail:  o.BuyerEmail,
		SellerIDs:   o.SellerIDs(),
		Status:      string(o.Status),
		Message:     msg,
		Amount:      amount,
		Currency:    o.Currency,
	})
}

// addAggregates : +1 commande et +total côté acheteur, quantités et montants de lignes par vendeur.
func (e *Engine) addAggregates(ctx context.Context, o *models.Order) {
	if err := e.accounts.AddBuyer(ctx, o.BuyerID, 1, o.Total); err != nil {
		e.log.Warn("⚠️ Compteurs acheteur non mis à jour", zap.String("buyer_id", o.BuyerID), zap.Error(err))
	}
	for sellerID, d := range o.SellerTotals() {
		if err := e.accounts.AddSeller(ctx, sellerID, d.Sales, d.Revenue); err != nil {
			e.log.Warn("⚠️ Compteurs vendeur non mis à jour", zap.String("seller_id", sellerID), zap.Error(err))
		}
	}
}

// reverseAggregates retire amount des dépenses de l'acheteur et la part
// correspondante du chiffre de chaque vendeur, au prorata de ses lignes.
// withOrders retire aussi la commande et les quantités (annulation).
func (e *Engine) reverseAggregates(ctx context.Context, o *models.Order, amount decimal.Decimal, withOrders bool) {
	orders := 0
	if withOrders {
		orders = -1
	}
	if err := e.accounts.AddBuyer(ctx, o.BuyerID, orders, amount.Neg()); err != nil {
		e.log.Warn("⚠️ Compteurs acheteur non corrigés", zap.String("buyer_id", o.BuyerID), zap.Error(err))
	}
	if !o.Total.IsPositive() {
		return
	}
	for sellerID, d := range o.SellerTotals() {
		share := d.Revenue.Mul(amount).Div(o.Total).Round(2)
		if share.GreaterThan(d.Revenue) {
			share = d.Revenue
		}
		sales := 0
		if withOrders {
			sales = -d.Sales
		}
		if err := e.accounts.AddSeller(ctx, sellerID, sales, share.Neg()); err != nil {
			e.log.Warn("⚠️ Compteurs vendeur non corrigés", zap.String("seller_id", sellerID), zap.Error(err))
		}
	}
}

// refundedSoFar : montant déjà remboursé, quelle que soit la voie (passerelle ou admin).
func refundedSoFar(o *models.Order) decimal.Decimal {
	r := o.Payment.AmountRefunded
	if o.RefundAmount != nil && o.RefundAmount.GreaterThan(r) {
		r = *o.RefundAmount
	}
	return r
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.PublicMessage(err))
	}
	span.End()
}
