package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/money"
	"marketplace_back_end/internal/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type StatusUpdate struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier"`
	Reason         string             `json:"reason"`
	// RefundAmount est le montant remboursé cumulé; total de la commande par défaut.
	RefundAmount *decimal.Decimal `json:"refund_amount"`

	// onlyFrom restreint les statuts de départ acceptés (annulation par l'acheteur).
	onlyFrom []models.OrderStatus
	// abandoned : commande jamais annoncée, ni compteurs ni notification.
	abandoned bool
}

// UpdateStatus applique une transition demandée par un vendeur de la commande ou un admin.
func (e *Engine) UpdateStatus(ctx context.Context, actor models.Identity, orderID string, upd StatusUpdate) (o *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.UpdateStatus")
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(upd.Status)))
	defer func() { endSpan(span, err) }()

	if !upd.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("Statut invalide: %s", upd.Status))
	}
	current, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, current) {
		return nil, apperr.Wrap(apperr.KindAuthorization, ErrNotAuthorized.Error(), ErrNotAuthorized)
	}
	upd.onlyFrom = nil
	return e.transition(ctx, orderID, actor.UserID, upd)
}

// transition écrit le changement de statut puis lance ses effets.
func (e *Engine) transition(ctx context.Context, orderID, actor string, upd StatusUpdate) (*models.Order, error) {
	var ch change
	o, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if len(upd.onlyFrom) > 0 && !slices.Contains(upd.onlyFrom, o.Status) {
			return apperr.Rulef(ErrInvalidTransition, "Commande déjà expédiée, annulation impossible")
		}
		if err := CanTransition(o.Status, upd.Status); err != nil {
			return err
		}

		ch = change{from: o.Status, to: upd.Status, actor: actor}
		now := e.now()

		switch upd.Status {
		case models.OrderProcessing:
			ch.desc = "Commande en préparation"

		case models.OrderShipped:
			tracking := firstNonEmpty(upd.TrackingNumber, o.TrackingNumber)
			carrier := firstNonEmpty(upd.Carrier, o.Carrier)
			if tracking == "" || carrier == "" {
				return apperr.Rule(ErrTrackingRequired)
			}
			o.TrackingNumber, o.Carrier = tracking, carrier
			o.ShippedAt = &now
			ch.desc = fmt.Sprintf("Commande expédiée via %s (suivi %s)", carrier, tracking)

		case models.OrderDelivered:
			o.DeliveredAt = &now
			ch.desc = "Commande livrée"

		case models.OrderCancelled:
			o.CancelledAt = &now
			o.CancellationReason = firstNonEmpty(upd.Reason, "Commande annulée")
			if !o.InventoryReleased {
				o.InventoryReleased = true
				ch.releaseStock = true
			}
			if upd.abandoned {
				ch.silent = true
			} else {
				ch.reverse = o.Total.Sub(refundedSoFar(o))
				ch.reverseOrders = true
			}
			ch.desc = "Commande annulée : " + o.CancellationReason

		case models.OrderRefunded:
			amount := o.Total
			if upd.RefundAmount != nil {
				amount = *upd.RefundAmount
			}
			if !amount.IsPositive() || amount.GreaterThan(o.Total) {
				return apperr.Rulef(ErrRefundAmount,
					fmt.Sprintf("Montant de remboursement invalide (max %s)", money.Format(o.Total, o.Currency)))
			}
			prev := refundedSoFar(o)
			if amount.GreaterThan(prev) {
				ch.reverse = amount.Sub(prev)
			}
			o.RefundAmount = &amount
			o.RefundedAt = &now
			o.RefundReason = upd.Reason
			o.RefundRequestedAt = nil
			if o.Payment.Status.Settled() {
				next := models.PaymentPartiallyRefunded
				if amount.GreaterThanOrEqual(o.Total) {
					next = models.PaymentRefunded
				}
				if o.Payment.Status.Supersedes(next) {
					o.Payment.Status = next
				}
				if amount.GreaterThan(o.Payment.AmountRefunded) {
					o.Payment.AmountRefunded = amount
				}
			}
			ch.desc = "Remboursement de " + money.Format(amount, o.Currency)
		}

		o.Status = upd.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.afterChange(ctx, o, ch)
	return o, nil
}

// AddTracking enregistre le suivi. Une commande pending/processing passe
// automatiquement à shipped; une commande déjà expédiée ou livrée voit son suivi corrigé.
func (e *Engine) AddTracking(ctx context.Context, actor models.Identity, orderID, tracking, carrier string) (*models.Order, error) {
	tracking, carrier = strings.TrimSpace(tracking), strings.TrimSpace(carrier)
	if tracking == "" || carrier == "" {
		return nil, apperr.Wrap(apperr.KindValidation, ErrTrackingRequired.Error(), ErrTrackingRequired)
	}

	current, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, current) {
		return nil, apperr.Wrap(apperr.KindAuthorization, ErrNotAuthorized.Error(), ErrNotAuthorized)
	}

	switch current.Status {
	case models.OrderPending, models.OrderProcessing:
		return e.transition(ctx, orderID, actor.UserID, StatusUpdate{
			Status:         models.OrderShipped,
			TrackingNumber: tracking,
			Carrier:        carrier,
			onlyFrom:       []models.OrderStatus{models.OrderPending, models.OrderProcessing},
		})
	case models.OrderShipped, models.OrderDelivered:
		o, err := e.mutate(ctx, orderID, func(o *models.Order) error {
			if o.Status != models.OrderShipped && o.Status != models.OrderDelivered {
				return apperr.Rule(ErrInvalidTransition)
			}
			o.TrackingNumber, o.Carrier = tracking, carrier
			return nil
		})
		if err != nil {
			return nil, err
		}
		desc := fmt.Sprintf("Suivi mis à jour : %s (%s)", tracking, carrier)
		e.afterChange(ctx, o, change{from: o.Status, to: o.Status, actor: actor.UserID, desc: desc})
		return o, nil
	default:
		return nil, apperr.Rulef(ErrInvalidTransition, fmt.Sprintf("Suivi impossible sur une commande %s", current.Status))
	}
}

// Cancel : un vendeur de la commande ou un admin peut annuler tant qu'elle n'est
// pas livrée; l'acheteur seulement avant l'expédition.
func (e *Engine) Cancel(ctx context.Context, actor models.Identity, orderID, reason string) (*models.Order, error) {
	current, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	upd := StatusUpdate{Status: models.OrderCancelled, Reason: strings.TrimSpace(reason)}
	switch {
	case canManage(actor, current):
		if upd.Reason == "" {
			upd.Reason = "Annulée par le vendeur"
			if actor.IsAdmin() {
				upd.Reason = "Annulée par l'administration"
			}
		}
	case actor.UserID != "" && current.BuyerID == actor.UserID:
		upd.onlyFrom = []models.OrderStatus{models.OrderPending, models.OrderProcessing}
		if upd.Reason == "" {
			upd.Reason = "Annulée à la demande du client"
		}
	default:
		return nil, apperr.Wrap(apperr.KindAuthorization, ErrNotAuthorized.Error(), ErrNotAuthorized)
	}
	return e.transition(ctx, orderID, actor.UserID, upd)
}

// Refund (admin) demande d'abord le remboursement à la passerelle si la commande
// a été payée, puis l'enregistre. amount est le cumul remboursé visé; nil = total.
func (e *Engine) Refund(ctx context.Context, actor models.Identity, orderID string, amount *decimal.Decimal, reason string) (o *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "order.Refund")
	span.SetAttributes(attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("Accès réservé aux administrateurs")
	}
	current, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(current.Status, models.OrderRefunded); err != nil {
		return nil, err
	}

	target := current.Total
	if amount != nil {
		target = *amount
	}
	if !target.IsPositive() || target.GreaterThan(current.Total) {
		return nil, apperr.Rulef(ErrRefundAmount,
			fmt.Sprintf("Montant de remboursement invalide (max %s)", money.Format(current.Total, current.Currency)))
	}

	// Le remboursement passerelle est d'abord réservé sur la commande (écriture
	// versionnée) : un second admin concurrent reçoit un conflit et la
	// passerelle n'est appelée qu'une fois.
	var due decimal.Decimal
	claimed, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if err := CanTransition(o.Status, models.OrderRefunded); err != nil {
			return err
		}
		if !o.Payment.Status.Settled() {
			return errUnchanged
		}
		due = target.Sub(o.Payment.AmountRefunded)
		if !due.IsPositive() {
			return errUnchanged
		}
		now := e.now()
		if o.RefundRequestedAt != nil && now.Sub(*o.RefundRequestedAt) < refundClaimTTL {
			return apperr.Wrap(apperr.KindConflict, ErrRefundInProgress.Error(), ErrRefundInProgress)
		}
		o.RefundRequestedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
	case err != nil:
		return nil, err
	default:
		if err := e.refundAtGateway(ctx, claimed, due); err != nil {
			e.releaseRefundClaim(ctx, orderID)
			return nil, err
		}
	}

	return e.transition(ctx, orderID, actor.UserID, StatusUpdate{
		Status:       models.OrderRefunded,
		RefundAmount: &target,
		Reason:       firstNonEmpty(reason, "Remboursement administrateur"),
	})
}

// refundClaimTTL : au-delà, une réservation de remboursement est considérée
// abandonnée (processus arrêté pendant l'appel passerelle).
const refundClaimTTL = 5 * time.Minute

func (e *Engine) refundAtGateway(ctx context.Context, o *models.Order, due decimal.Decimal) error {
	gw, err := e.gateways.Get(o.Payment.Gateway)
	if err != nil {
		return apperr.External("Passerelle de paiement indisponible", err)
	}
	res, err := gw.Refund(ctx, o.Payment, due)
	if err != nil {
		e.log.Error("❌ Remboursement refusé par la passerelle", zap.String("order_id", o.ID), zap.Error(err))
		return apperr.External("Remboursement refusé par la passerelle", err)
	}
	e.log.Info("💳 Remboursement passerelle effectué", zap.String("order_id", o.ID),
		zap.String("refund_id", res.ID), zap.String("amount", due.StringFixed(2)))
	return nil
}

func (e *Engine) releaseRefundClaim(ctx context.Context, orderID string) {
	_, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if o.RefundRequestedAt == nil {
			return errUnchanged
		}
		o.RefundRequestedAt = nil
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		e.log.Error("❌ Réservation de remboursement non libérée", zap.String("order_id", orderID), zap.Error(err))
	}
}

// OrderView est la commande avec sa timeline.
type OrderView struct {
	*models.Order
	Timeline []models.TimelineEntry `json:"timeline"`
}

func (e *Engine) Get(ctx context.Context, actor models.Identity, orderID string) (*OrderView, error) {
	o, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, apperr.Forbidden("Accès non autorisé à cette commande")
	}
	timeline, err := e.timeline.List(ctx, orderID)
	if err != nil {
		e.log.Warn("⚠️ Timeline illisible", zap.String("order_id", orderID), zap.Error(err))
	}
	return &OrderView{Order: o, Timeline: timeline}, nil
}

func (e *Engine) Timeline(ctx context.Context, orderID string) ([]models.TimelineEntry, error) {
	return e.timeline.List(ctx, orderID)
}

func (e *Engine) ListForBuyer(ctx context.Context, buyerID string) ([]*models.Order, error) {
	orders, err := e.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return orders, nil
}

func (e *Engine) BuyerStats(ctx context.Context, actor models.Identity, buyerID string) (models.BuyerStats, error) {
	if !actor.IsAdmin() && actor.UserID != buyerID {
		return models.BuyerStats{}, apperr.Forbidden("Accès non autorisé")
	}
	return e.accounts.Buyer(ctx, buyerID)
}

func (e *Engine) SellerStats(ctx context.Context, sellerID string) (models.SellerStats, error) {
	return e.accounts.Seller(ctx, sellerID)
}

// PreviewCoupon chiffre un coupon contre le panier courant, sans le consommer.
func (e *Engine) PreviewCoupon(ctx context.Context, actor models.Identity, code string) (models.CouponValidation, error) {
	if e.carts == nil {
		return models.CouponValidation{}, apperr.Internal(errors.New("panier non configuré"))
	}
	items, err := e.carts.Get(ctx, actor.UserID)
	if err != nil {
		return models.CouponValidation{}, apperr.Internal(err)
	}
	if len(items) == 0 {
		return models.CouponValidation{}, apperr.Wrap(apperr.KindValidation, ErrEmptyOrder.Error(), ErrEmptyOrder)
	}
	lines, err := e.snapshot(ctx, items)
	if err != nil {
		return models.CouponValidation{}, err
	}
	return e.discounts.Validate(ctx, code, discountCart(lines), discountCustomer(actor))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
